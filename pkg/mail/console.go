package mail

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConsoleMailer logs messages instead of sending them. It is the development
// default and keeps a copy of everything it "sent".
type ConsoleMailer struct {
	from   Address
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewConsoleMailer builds a logging mailer.
func NewConsoleMailer(from Address, logger *zap.Logger) *ConsoleMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleMailer{from: from, logger: logger}
}

// Send logs msg.
func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	recipients := make([]string, len(msg.To))
	for i, to := range msg.To {
		recipients[i] = to.Email
	}
	m.logger.Info("mail (console)",
		zap.String("from", m.from.Email),
		zap.Strings("to", recipients),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// Sent returns the messages delivered so far.
func (m *ConsoleMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
