package mail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridMailer delivers messages through the SendGrid v3 API.
type SendGridMailer struct {
	key    string
	from   *sgmail.Email
	logger *zap.Logger
	send   func(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// NewSendGridMailer builds a mailer authenticated with key.
func NewSendGridMailer(key string, from Address, logger *zap.Logger) *SendGridMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridMailer{
		key:    key,
		from:   sgmail.NewEmail(from.Name, from.Email),
		logger: logger,
		send:   sendgrid.MakeRequestWithContext,
	}
}

// Send posts msg to SendGrid. Any 4xx or 5xx response is an error so the job
// queue can retry it.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(m.key, sendGridEndpoint, sendGridHost)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := m.send(ctx, req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send mail: sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	m.logger.Debug("mail sent", zap.String("subject", msg.Subject), zap.Int("recipients", len(msg.To)))
	return nil
}

func (m *SendGridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Email))
	}

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	if msg.Text != "" {
		v3.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		v3.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return v3
}
