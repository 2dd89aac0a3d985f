// Package tui implements the live watch view shown by "magpie run --watch":
// a bubbletea model that consumes engine events and renders per-step
// progress while an execution runs.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette, adaptive for light and dark terminals.
var (
	// ColorPrimary is the accent color used for the title and spinner.
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7B78FF"}

	// ColorSuccess represents successful steps (green).
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#16A34A", Dark: "#4ADE80"}

	// ColorWarning represents running and waiting states (amber).
	ColorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// ColorError represents failed steps (red).
	ColorError = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}

	// ColorMuted is a subdued foreground for pending steps and hints.
	ColorMuted = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// Theme holds the pre-built lipgloss styles for the watch view.
type Theme struct {
	Title      lipgloss.Style
	StepName   lipgloss.Style
	StepType   lipgloss.Style
	Pending    lipgloss.Style
	Running    lipgloss.Style
	Success    lipgloss.Style
	Failed     lipgloss.Style
	Skipped    lipgloss.Style
	Waiting    lipgloss.Style
	EventLine  lipgloss.Style
	ErrorLine  lipgloss.Style
	Help       lipgloss.Style
	DoneBanner lipgloss.Style
	FailBanner lipgloss.Style
}

// DefaultTheme builds the standard watch-view theme. Lipgloss resolves the
// adaptive colors against the active color profile, so --no-color renders
// plain text.
func DefaultTheme() Theme {
	return Theme{
		Title:      lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		StepName:   lipgloss.NewStyle().Bold(true),
		StepType:   lipgloss.NewStyle().Foreground(ColorMuted),
		Pending:    lipgloss.NewStyle().Foreground(ColorMuted),
		Running:    lipgloss.NewStyle().Foreground(ColorWarning),
		Success:    lipgloss.NewStyle().Foreground(ColorSuccess),
		Failed:     lipgloss.NewStyle().Foreground(ColorError),
		Skipped:    lipgloss.NewStyle().Foreground(ColorMuted).Strikethrough(true),
		Waiting:    lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),
		EventLine:  lipgloss.NewStyle().Foreground(ColorMuted),
		ErrorLine:  lipgloss.NewStyle().Foreground(ColorError),
		Help:       lipgloss.NewStyle().Foreground(ColorMuted),
		DoneBanner: lipgloss.NewStyle().Bold(true).Foreground(ColorSuccess),
		FailBanner: lipgloss.NewStyle().Bold(true).Foreground(ColorError),
	}
}
