// Package pycheck validates Python step scripts before they reach the
// sandbox. It catches the failure modes that dominate generated scripts:
// outright syntax errors, same-quote nesting inside f-strings, and protocol
// mistakes (no JSON on stdout, logs on stdout, missing --variables-file
// handling).
package pycheck

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Severity classifies an issue. Errors make the script unrunnable; warnings
// flag protocol violations the script may survive.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding. Line is 1-based; 0 means the issue
// applies to the script as a whole.
type Issue struct {
	Severity Severity `json:"severity"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

// Result is the outcome of validating one script. OK is true when no
// error-severity issues were found; warnings do not affect it.
type Result struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues,omitempty"`
}

// Same-quote nesting inside an f-string placeholder. Python < 3.12 rejects
// these outright, and they are the most common defect in generated scripts.
var (
	reSingleQuoteNest = regexp.MustCompile(`f'[^']*\{[^}]*\['[^']*'\][^}]*\}`)
	reDoubleQuoteNest = regexp.MustCompile(`f"[^"]*\{[^}]*\["[^"]*"\][^}]*\}`)
)

// Validate parses code with the tree-sitter Python grammar and applies the
// line-level protocol checks. A parse error is fatal and short-circuits the
// remaining checks, mirroring how the interpreter would behave.
func Validate(ctx context.Context, code string) Result {
	var issues []Issue

	src := []byte(code)
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("parsing script: %v", err),
		})
		return Result{OK: false, Issues: issues}
	}
	defer tree.Close()

	if root := tree.RootNode(); root.HasError() {
		line, col, near := firstSyntaxError(root, src)
		issues = append(issues, Issue{
			Severity: SeverityError,
			Line:     line,
			Message:  fmt.Sprintf("syntax error at line %d, column %d (near %q)", line, col, near),
		})
		return Result{OK: false, Issues: issues}
	}

	issues = append(issues, checkFStringQuotes(code)...)
	issues = append(issues, checkVariablesFile(code)...)
	issues = append(issues, checkStdoutProtocol(code)...)
	issues = append(issues, checkErrorHandling(code)...)
	issues = append(issues, checkImports(code)...)

	ok := true
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			ok = false
			break
		}
	}
	return Result{OK: ok, Issues: issues}
}

// firstSyntaxError walks the tree depth-first and returns the 1-based
// position of the first ERROR or MISSING node, plus a short source excerpt.
func firstSyntaxError(root *sitter.Node, src []byte) (line, col int, near string) {
	node := findErrorNode(root)
	if node == nil {
		node = root
	}
	pt := node.StartPoint()
	line = int(pt.Row) + 1
	col = int(pt.Column) + 1

	near = node.Content(src)
	if idx := strings.IndexByte(near, '\n'); idx >= 0 {
		near = near[:idx]
	}
	if len(near) > 40 {
		near = near[:40]
	}
	return line, col, near
}

func findErrorNode(node *sitter.Node) *sitter.Node {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := findErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

// checkFStringQuotes flags placeholders that subscript with the same quote
// kind as the enclosing f-string, and warns about f-strings whose braces
// look split across lines.
func checkFStringQuotes(code string) []Issue {
	var issues []Issue
	for i, line := range strings.Split(code, "\n") {
		n := i + 1
		if reSingleQuoteNest.MatchString(line) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Line:     n,
				Message:  "single quotes nested inside a single-quoted f-string; extract the value to a variable first",
			})
		}
		if reDoubleQuoteNest.MatchString(line) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Line:     n,
				Message:  "double quotes nested inside a double-quoted f-string; extract the value to a variable first",
			})
		}

		trimmed := strings.TrimSpace(line)
		if (strings.HasPrefix(trimmed, `f"`) || strings.HasPrefix(trimmed, "f'")) &&
			strings.Contains(trimmed, "{") && !strings.Contains(trimmed, "}") {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Line:     n,
				Message:  "f-string appears to span multiple lines; keep each placeholder on one line",
			})
		}
	}
	return issues
}

// checkVariablesFile verifies the script reads its inputs the way the
// sandbox provides them: a JSON file named by --variables-file.
func checkVariablesFile(code string) []Issue {
	if strings.Contains(code, "--variables-file") {
		return nil
	}
	if strings.Contains(code, "--variables") {
		return []Issue{{
			Severity: SeverityWarning,
			Message:  "script reads --variables; use --variables-file (variables arrive as a JSON file path)",
		}}
	}
	return []Issue{{
		Severity: SeverityWarning,
		Message:  "no --variables-file argument handling found",
	}}
}

// checkStdoutProtocol verifies stdout carries exactly one JSON document and
// that log output goes to stderr.
func checkStdoutProtocol(code string) []Issue {
	var issues []Issue
	hasStdoutJSON := false
	firstBarePrint := 0

	for i, line := range strings.Split(code, "\n") {
		if !strings.Contains(line, "print(") || strings.Contains(line, "file=sys.stderr") {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if strings.Contains(line, "json.dumps") {
			hasStdoutJSON = true
			continue
		}
		if firstBarePrint == 0 {
			firstBarePrint = i + 1
		}
	}

	if !hasStdoutJSON {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "no JSON result on stdout; finish with print(json.dumps(...))",
		})
	}
	if firstBarePrint > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Line:     firstBarePrint,
			Message:  "print without file=sys.stderr writes to stdout and can corrupt the JSON result",
		})
	}
	return issues
}

func checkErrorHandling(code string) []Issue {
	if strings.Contains(code, "try:") && strings.Contains(code, "except") {
		return nil
	}
	return []Issue{{
		Severity: SeverityWarning,
		Message:  "no try/except error handling",
	}}
}

// checkImports warns when a module is referenced but never imported.
func checkImports(code string) []Issue {
	var issues []Issue
	if strings.Contains(code, "json.") && !strings.Contains(code, "import json") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "json is used but never imported",
		})
	}
	if strings.Contains(code, "sys.") && !strings.Contains(code, "import sys") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "sys is used but never imported",
		})
	}
	return issues
}
