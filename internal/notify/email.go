package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/logging"
)

// ErrNotConfigured reports that the email transport is missing its host or
// credentials. Callers decide whether that is fatal; the notification step
// does not treat it as such.
var ErrNotConfigured = errors.New("email transport is not configured")

const dialTimeout = 10 * time.Second

// EmailConfig carries SMTP settings. Credentials come from the named
// environment variables at send time, never from the struct.
type EmailConfig struct {
	Host        string
	Port        int
	UserEnv     string
	PasswordEnv string
	From        string
}

// EmailNotifier sends messages over SMTP.
type EmailNotifier struct {
	cfg    EmailConfig
	logger *log.Logger
}

// NewEmailNotifier returns an SMTP-backed notifier. A zero port defaults
// to 587. A nil logger uses the package default.
func NewEmailNotifier(cfg EmailConfig, logger *log.Logger) *EmailNotifier {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = logging.New("notify")
	}
	return &EmailNotifier{cfg: cfg, logger: logger}
}

// Send delivers the message. TLS is negotiated via STARTTLS and
// authentication performed when the server advertises them, which covers
// the common submission setup on port 587.
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	user := os.Getenv(n.cfg.UserEnv)
	pass := os.Getenv(n.cfg.PasswordEnv)
	if n.cfg.Host == "" {
		return fmt.Errorf("%w: smtp host is empty", ErrNotConfigured)
	}
	if user == "" || pass == "" {
		return fmt.Errorf("%w: credentials missing from environment (%s, %s)",
			ErrNotConfigured, n.cfg.UserEnv, n.cfg.PasswordEnv)
	}

	recipients := splitRecipients(msg.To, msg.CC, msg.BCC)
	if len(recipients) == 0 {
		return fmt.Errorf("notification recipient is required")
	}
	from := n.cfg.From
	if from == "" {
		from = user
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to smtp server %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", user, pass, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from %s: %w", from, err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildPayload(from, msg)); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	n.logger.Info("email sent", "to", msg.To, "subject", msg.Subject, "recipients", len(recipients))
	return client.Quit()
}

// buildPayload renders the RFC 5322 message. BCC recipients are included
// in the envelope only, never in headers.
func buildPayload(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if msg.CC != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", msg.CC)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
