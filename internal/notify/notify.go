// Package notify sends job-completion emails.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/imcf/image-tools/internal/config"
)

const defaultTimeout = 30 * time.Second

// Mailer sends notifications through the configured SMTP server.
type Mailer struct {
	cfg     config.Mail
	log     zerolog.Logger
	timeout time.Duration
}

// NewMailer returns a Mailer for cfg. An unconfigured Mailer is valid and
// sends nothing.
func NewMailer(cfg config.Mail, log zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log, timeout: defaultTimeout}
}

// Job describes a finished workflow.
type Job struct {
	Name      string
	Recipient string
	File      string
	Elapsed   string
}

// Subject returns the mail subject for j.
func (j Job) Subject() string {
	return fmt.Sprintf("Your %s job has finished", j.Name)
}

// Body returns the plain-text mail body for j.
func (j Job) Body() string {
	var b strings.Builder
	b.WriteString("Dear recipient,\n\n")
	b.WriteString("This is an automated message.\n")
	fmt.Fprintf(&b, "Your workflow '%s' has been successfully completed.\n\n", j.Name)
	b.WriteString("Details:\n")
	fmt.Fprintf(&b, "- File: %s\n", j.File)
	fmt.Fprintf(&b, "- Total execution time: %s\n\n", j.Elapsed)
	b.WriteString("Best regards,\n")
	b.WriteString("The IMCF team\n")
	return b.String()
}

// SendJobCompleted mails the completion notice for j.
//
// Nothing is sent, and nil is returned, when the sender, the SMTP server or
// the recipient is empty. Delivery failures are logged as warnings and not
// retried; they do not produce an error either. Only a message that cannot
// be built (an invalid address) returns an error.
func (m *Mailer) SendJobCompleted(ctx context.Context, j Job) error {
	if m.cfg.Sender == "" {
		m.log.Debug().Msg("sender email is not configured, skipping notification")
		return nil
	}
	if m.cfg.SMTPServer == "" {
		m.log.Debug().Msg("SMTP server is not configured, skipping notification")
		return nil
	}
	recipient := strings.TrimSpace(j.Recipient)
	if recipient == "" {
		m.log.Debug().Msg("no recipient given, skipping notification")
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.Sender); err != nil {
		return fmt.Errorf("invalid sender %q: %w", m.cfg.Sender, err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	msg.Subject(j.Subject())
	msg.SetBodyString(mail.TypeTextPlain, j.Body())

	port := m.cfg.SMTPPort
	if port <= 0 {
		port = 25
	}
	client, err := mail.NewClient(m.cfg.SMTPServer,
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(m.timeout),
	)
	if err != nil {
		m.log.Warn().Err(err).Msg("error sending email")
		return nil
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.log.Warn().Err(err).Str("server", m.cfg.SMTPServer).Msg("error sending email")
		return nil
	}
	m.log.Debug().Str("recipient", recipient).Msg("email sent")
	return nil
}
