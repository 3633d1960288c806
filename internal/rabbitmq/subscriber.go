package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// stockDecision is the inbound wire contract on the inventory response
// queue. Note the asymmetry with the outbound stock-check request, which is
// a bare order id: the asymmetry is part of the contract, not an accident.
type stockDecision struct {
	OrderID  string `json:"orderId"`
	HasStock bool   `json:"hasStock"`
}

// DecisionApplier is implemented by the order lifecycle service. It must be
// idempotent: the broker delivers at least once and in no particular order.
type DecisionApplier interface {
	ApplyStockDecision(ctx context.Context, orderID string, hasStock bool) error
}

// Subscriber consumes stock decisions from a durable queue, one message in
// flight at a time, and acknowledges each only after the decision has been
// durably applied.
type Subscriber struct {
	ch      *amqp.Channel
	queue   string
	applier DecisionApplier
}

func NewSubscriber(ch *amqp.Channel, queue string, applier DecisionApplier) *Subscriber {
	return &Subscriber{ch: ch, queue: queue, applier: applier}
}

// Run blocks on an explicit receive loop until ctx is cancelled or the
// channel closes. Ack/nack rules:
//
//   - malformed payload: reject without requeue (dead-letter path) so a
//     poison message cannot loop forever;
//   - applier error (persist failure): nack with requeue, the idempotence of
//     ApplyStockDecision makes the redelivery safe;
//   - success: ack. Notification failures inside the applier are logged
//     there and never reach this loop.
func (s *Subscriber) Run(ctx context.Context) error {
	// Prefetch 1 keeps handling sequential per queue, which keeps the
	// persist-then-notify ordering deterministic per order.
	if err := s.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("could not set QoS on %q: %w", s.queue, err)
	}

	msgs, err := s.ch.Consume(
		s.queue, // queue
		"",      // consumer tag
		false,   // auto-ack: we ack manually after persistence
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("could not start consume on %q: %w", s.queue, err)
	}

	slog.Info("stock response subscriber started", "queue", s.queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", s.queue)
			}
			s.handle(ctx, d)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, d amqp.Delivery) {
	var dec stockDecision
	if err := json.Unmarshal(d.Body, &dec); err != nil || dec.OrderID == "" {
		slog.ErrorContext(ctx, "malformed stock decision rejected", "queue", s.queue, "body", string(d.Body), "error", err)
		if err := d.Nack(false, false); err != nil {
			slog.ErrorContext(ctx, "failed to reject malformed message", "error", err)
		}
		return
	}

	if err := s.applier.ApplyStockDecision(ctx, dec.OrderID, dec.HasStock); err != nil {
		slog.ErrorContext(ctx, "stock decision not applied, leaving message for redelivery",
			"order_id", dec.OrderID, "has_stock", dec.HasStock, "error", err)
		if err := d.Nack(false, true); err != nil {
			slog.ErrorContext(ctx, "failed to nack message", "order_id", dec.OrderID, "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		slog.ErrorContext(ctx, "failed to ack message", "order_id", dec.OrderID, "error", err)
	}
}
