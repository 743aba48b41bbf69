package mail

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/config"
)

// Address is a named mailbox.
type Address struct {
	Name  string
	Email string
}

// Message is a transactional email with plain text and optional HTML bodies.
type Message struct {
	To      []Address
	Subject string
	Text    string
	HTML    string
}

// Validate checks that the message can be delivered.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	for _, to := range m.To {
		if !strings.Contains(to.Email, "@") {
			return fmt.Errorf("invalid recipient %q", to.Email)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("message has no subject")
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("message has no content")
	}
	return nil
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the mailer selected by cfg.Provider.
func New(cfg config.MailConfig, logger *zap.Logger) (Mailer, error) {
	from := Address{Name: cfg.FromName, Email: cfg.FromEmail}
	switch cfg.Provider {
	case "", config.MailProviderConsole:
		return NewConsoleMailer(from, logger), nil
	case config.MailProviderSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("sendgrid provider requires SENDGRID_API_KEY")
		}
		return NewSendGridMailer(cfg.SendGridAPIKey, from, logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}
