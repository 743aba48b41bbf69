package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/mail"
)

const mailJobType = "mail.send"

// MailDispatcher delivers email in the background through the job queue.
type MailDispatcher struct {
	queue   *jobs.Queue
	mailer  mail.Mailer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewMailDispatcher wires a mailer behind a worker queue. Call Start before
// dispatching and Stop on shutdown.
func NewMailDispatcher(mailer mail.Mailer, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *MailDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &MailDispatcher{mailer: mailer, metrics: metrics, logger: logger}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	d.queue = jobs.NewQueue("mail", d.deliver, cfg)
	return d
}

// Start launches the delivery workers.
func (d *MailDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains pending mail and stops the workers.
func (d *MailDispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch validates msg and queues it for delivery.
func (d *MailDispatcher) Dispatch(ctx context.Context, msg mail.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	id, err := d.queue.Enqueue(ctx, jobs.Job{Type: mailJobType, Payload: msg})
	if err != nil {
		d.metrics.RecordMailJob("rejected")
		return "", err
	}
	d.metrics.RecordMailJob("queued")
	return id, nil
}

func (d *MailDispatcher) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mail.Message)
	if !ok {
		d.logger.Error("unexpected mail payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.metrics.RecordMailJob("failed")
		return err
	}
	d.metrics.RecordMailJob("sent")
	return nil
}
