package mail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/pkg/config"
)

func validMessage() Message {
	return Message{
		To:      []Address{{Name: "Ana", Email: "ana@example.com"}},
		Subject: "Reset your password",
		Text:    "click the link",
	}
}

func TestNewSelectsProvider(t *testing.T) {
	m, err := New(config.MailConfig{Provider: config.MailProviderConsole}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ConsoleMailer{}, m)

	_, err = New(config.MailConfig{Provider: config.MailProviderSendGrid}, nil)
	assert.Error(t, err)

	m, err = New(config.MailConfig{Provider: config.MailProviderSendGrid, SendGridAPIKey: "key"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SendGridMailer{}, m)

	_, err = New(config.MailConfig{Provider: "pigeon"}, nil)
	assert.Error(t, err)
}

func TestMessageValidate(t *testing.T) {
	assert.NoError(t, validMessage().Validate())

	msg := validMessage()
	msg.To = nil
	assert.Error(t, msg.Validate())

	msg = validMessage()
	msg.To = []Address{{Email: "nobody"}}
	assert.Error(t, msg.Validate())

	msg = validMessage()
	msg.Text = ""
	assert.Error(t, msg.Validate())
}

func TestConsoleMailerRecordsMessages(t *testing.T) {
	m := NewConsoleMailer(Address{Email: "noreply@example.com"}, nil)
	require.NoError(t, m.Send(context.Background(), validMessage()))
	require.Len(t, m.Sent(), 1)
	assert.Equal(t, "Reset your password", m.Sent()[0].Subject)
}

func TestSendGridMailerBuildsRequest(t *testing.T) {
	m := NewSendGridMailer("sg-key", Address{Name: "LMS", Email: "noreply@example.com"}, nil)
	var captured rest.Request
	m.send = func(_ context.Context, req rest.Request) (*rest.Response, error) {
		captured = req
		return &rest.Response{StatusCode: http.StatusAccepted}, nil
	}

	require.NoError(t, m.Send(context.Background(), validMessage()))
	assert.Equal(t, rest.Post, captured.Method)
	assert.Equal(t, "Bearer sg-key", captured.Headers["Authorization"])

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(captured.Body, &body))
	assert.Equal(t, "noreply@example.com", body["from"].(map[string]interface{})["email"])
}

func TestSendGridMailerReportsFailures(t *testing.T) {
	m := NewSendGridMailer("sg-key", Address{Email: "noreply@example.com"}, nil)
	m.send = func(context.Context, rest.Request) (*rest.Response, error) {
		return &rest.Response{StatusCode: http.StatusTooManyRequests, Body: "slow down"}, nil
	}
	assert.Error(t, m.Send(context.Background(), validMessage()))

	m.send = func(context.Context, rest.Request) (*rest.Response, error) {
		return nil, errors.New("dial tcp: timeout")
	}
	assert.Error(t, m.Send(context.Background(), validMessage()))
}
