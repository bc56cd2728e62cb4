// Package notify carries account mail from the API server to a mailer worker
// over the message queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/natours/apiserver/internal/mq"
)

const attrKind = "kind"

// Mail is the queued form of one outgoing message.
type Mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (m Mail) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("mail recipient is required")
	}
	if strings.ContainsAny(m.To+m.Subject, "\r\n") {
		return errors.New("mail headers must not contain line breaks")
	}
	return nil
}

// Publisher is the part of the queue MailPublisher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// MailPublisher hands mail to the queue. Delivery happens later in a Mailer.
type MailPublisher struct {
	queue   Publisher
	channel string
}

func NewMailPublisher(queue Publisher, channel string) *MailPublisher {
	return &MailPublisher{queue: queue, channel: channel}
}

// Send enqueues one message. An error means the mail was not accepted.
func (p *MailPublisher) Send(ctx context.Context, destination, subject, body string) error {
	mail := Mail{To: destination, Subject: subject, Body: body}
	if err := mail.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}
	attrs := map[string]string{
		attrKind:           "account-mail",
		mq.AttrContentType: "application/json",
	}
	if _, err := p.queue.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}
