package mq

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBrokerClosed is returned by a MemoryBroker after Close.
var ErrBrokerClosed = errors.New("mq: broker closed")

// MemoryBroker is an in-process Backend for single-binary setups and tests.
// Messages published before anyone subscribes are buffered per channel. A
// message whose handler fails is queued again after a linear backoff and
// dropped once it has failed MaxAttempts times.
type MemoryBroker struct {
	MaxAttempts int
	RetryDelay  time.Duration

	mu     sync.Mutex
	queues map[string]chan queued
	closed chan struct{}
	once   sync.Once
}

type queued struct {
	msg      Message
	attempts int
}

const (
	memoryQueueSize   = 256
	memoryMaxAttempts = 5
	memoryRetryDelay  = time.Second
)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		MaxAttempts: memoryMaxAttempts,
		RetryDelay:  memoryRetryDelay,
		queues:      make(map[string]chan queued),
		closed:      make(chan struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("mq channel is required")
	}
	select {
	case <-b.closed:
		return "", ErrBrokerClosed
	default:
	}
	msg := Message{ID: uuid.NewString(), Data: append([]byte(nil), data...), Attributes: copyAttrs(attrs)}

	select {
	case <-b.closed:
		return "", ErrBrokerClosed
	case b.queue(channel) <- queued{msg: msg}:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("mq channel is required")
	}
	queue := b.queue(channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return ErrBrokerClosed
		case item := <-queue:
			err := handler(ctx, item.msg)
			if err == nil {
				continue
			}
			item.attempts++
			if b.MaxAttempts > 0 && item.attempts >= b.MaxAttempts {
				slog.Warn("dropping message after repeated failures",
					"channel", channel, "id", item.msg.ID, "attempts", item.attempts, "error", err)
				continue
			}
			if err := b.wait(ctx, time.Duration(item.attempts)*b.RetryDelay); err != nil {
				return err
			}
			select {
			case queue <- item:
			default:
				slog.Warn("dropping message, queue full", "channel", channel, "id", item.msg.ID)
			}
		}
	}
}

func (b *MemoryBroker) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrBrokerClosed
	}
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *MemoryBroker) queue(channel string) chan queued {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[channel]
	if !ok {
		q = make(chan queued, memoryQueueSize)
		b.queues[channel] = q
	}
	return q
}

func copyAttrs(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
