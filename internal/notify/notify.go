// Package notify delivers workflow notifications. The log transport is
// always available; the email transport speaks SMTP with STARTTLS when the
// server offers it and reports a structured error when credentials are
// missing, so an unconfigured transport degrades instead of failing the
// process.
package notify

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/logging"
)

// Message is one notification to deliver. Recipient fields hold
// comma-separated addresses.
type Message struct {
	To      string
	CC      string
	BCC     string
	Subject string
	Body    string
	HTML    bool
}

// Notifier delivers a message over one transport.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the log. It never fails.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier returns a log-backed notifier. A nil logger uses the
// package default.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.New("notify")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// splitRecipients flattens comma-separated address lists into one slice,
// dropping empties.
func splitRecipients(lists ...string) []string {
	var out []string
	for _, list := range lists {
		for _, addr := range strings.Split(list, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}
