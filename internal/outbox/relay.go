// Package outbox relays persisted broker messages to RabbitMQ.
//
// Writing the message in the same transaction as the order (store side) and
// publishing it here closes the dual-write gap: an order gets a stock check
// if and only if it was durably created. A crash between commit and publish
// only delays the message until the next relay tick.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/order-saga/internal/order/store"
)

const batchSize = 50

// Publisher is the broker side the relay pushes into.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Relay polls the outbox table and publishes unsent rows in insertion order,
// marking each sent only after the broker accepted it. Publishing before
// marking means a crash in between causes a duplicate publish, never a loss —
// the consumer side is idempotent.
type Relay struct {
	store    store.Store
	pub      Publisher
	interval time.Duration
}

func NewRelay(st store.Store, pub Publisher, interval time.Duration) *Relay {
	return &Relay{store: st, pub: pub, interval: interval}
}

// Run dispatches pending messages on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("outbox relay started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.DispatchPending(ctx); err != nil {
				slog.ErrorContext(ctx, "outbox dispatch failed", "error", err)
			}
		}
	}
}

// DispatchPending publishes one batch of unsent messages. It stops at the
// first failure so messages keep leaving in insertion order.
func (r *Relay) DispatchPending(ctx context.Context) error {
	msgs, err := r.store.UnsentMessages(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	for _, msg := range msgs {
		if err := r.pub.Publish(ctx, msg.Queue, msg.Payload); err != nil {
			return fmt.Errorf("publish outbox message %d: %w", msg.ID, err)
		}
		if err := r.store.MarkSent(ctx, msg.ID); err != nil {
			return fmt.Errorf("mark outbox message %d sent: %w", msg.ID, err)
		}
		slog.InfoContext(ctx, "outbox message published", "outbox_id", msg.ID, "queue", msg.Queue)
	}
	return nil
}
