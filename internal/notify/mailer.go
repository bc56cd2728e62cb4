package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/natours/apiserver/internal/mq"
)

// Sender delivers a single mail.
type Sender interface {
	Send(ctx context.Context, mail Mail) error
}

// Subscriber is the part of the queue Mailer needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Mailer drains the mail channel into a Sender.
type Mailer struct {
	queue   Subscriber
	channel string
	sender  Sender
	logger  *slog.Logger
}

func NewMailer(queue Subscriber, channel string, sender Sender, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{queue: queue, channel: channel, sender: sender, logger: logger}
}

// Run blocks until ctx is done or the queue fails.
func (m *Mailer) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "mailer started", slog.String("channel", m.channel))
	return m.queue.Subscribe(ctx, m.channel, m.handle)
}

// handle drops messages that can never be delivered and returns an error for
// the ones worth retrying.
func (m *Mailer) handle(ctx context.Context, msg mq.Message) error {
	var mail Mail
	if err := json.Unmarshal(msg.Data, &mail); err != nil {
		m.logger.ErrorContext(ctx, "discarding undecodable mail", slog.String("message_id", msg.ID), slog.Any("error", err))
		return nil
	}
	if err := mail.validate(); err != nil {
		m.logger.ErrorContext(ctx, "discarding invalid mail", slog.String("message_id", msg.ID), slog.Any("error", err))
		return nil
	}

	if err := m.sender.Send(ctx, mail); err != nil {
		m.logger.WarnContext(ctx, "mail delivery failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		return err
	}
	m.logger.InfoContext(ctx, "mail delivered", slog.String("message_id", msg.ID))
	return nil
}
