// Package order implements the order-confirmation saga: the lifecycle state
// machine, the stock-check request emission and the stock-decision
// application. It orchestrates the store, the transactional outbox and the
// notifier; the broker side lives in internal/rabbitmq and internal/outbox.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/order-saga/internal/notify"
	"github.com/jcmexdev/order-saga/internal/order/domain"
	"github.com/jcmexdev/order-saga/internal/order/store"
)

// saveRetries bounds the re-read loop on optimistic-concurrency conflicts.
// Conflicts are rare (two writers racing on the same order), one retry is
// usually enough; three keeps the worst case bounded.
const saveRetries = 3

// CreateOrderInput carries the caller-supplied fields of a new order.
// Everything else (id, status, total, timestamps) is derived.
type CreateOrderInput struct {
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Items         []domain.OrderItem
}

// Service is the lifecycle manager. It holds no order state between
// operations: every operation re-reads from the store.
type Service struct {
	store           store.Store
	notifier        notify.Notifier
	stockCheckQueue string
}

func NewService(st store.Store, notifier notify.Notifier, stockCheckQueue string) *Service {
	return &Service{
		store:           st,
		notifier:        notifier,
		stockCheckQueue: stockCheckQueue,
	}
}

// CreateOrder validates the input, persists a PENDING order together with its
// stock-check outbox message in one transaction, and sends the "received"
// notification. Validation and persistence failures propagate; the
// notification is best-effort.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	o, err := domain.NewOrder(in.CustomerID, in.CustomerName, in.CustomerEmail, in.Items)
	if err != nil {
		return nil, err
	}

	// The stock-check request is deliberately a bare order id, not a
	// structured document — the inventory side answers with structured JSON.
	// Both ends of the wire contract must change together.
	msg := store.OutboxMessage{
		Queue:   s.stockCheckQueue,
		Payload: []byte(o.ID),
	}

	if err := s.store.CreateWithOutbox(ctx, o, msg); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	slog.InfoContext(ctx, "order created", "order_id", o.ID, "customer_id", o.CustomerID, "total", o.TotalAmount)

	s.send(ctx, o, notify.OrderReceived(o.CustomerName, o.ID))
	return o, nil
}

// GetOrder returns the current snapshot, or store.ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.Find(ctx, id)
}

// ListOrders returns all order snapshots in a stable order.
func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.store.List(ctx)
}

// UpdateStatus applies an administrative transition. Only SHIPPED and
// DELIVERED are accepted as requested values; anything else, and a missing
// order, is a soft failure (false, nil). It does not check that the current
// status is a valid predecessor; see DESIGN.md for the reasoning.
func (s *Service) UpdateStatus(ctx context.Context, id string, requested domain.Status) (bool, error) {
	if requested != domain.StatusShipped && requested != domain.StatusDelivered {
		slog.WarnContext(ctx, "status update refused", "order_id", id, "requested", requested)
		return false, nil
	}

	o, ok, err := s.transition(ctx, id, func(o *domain.Order) bool {
		o.Status = requested
		return true
	})
	if err != nil || !ok {
		return false, err
	}

	slog.InfoContext(ctx, "order status updated", "order_id", id, "status", requested)

	switch requested {
	case domain.StatusShipped:
		s.send(ctx, o, notify.OrderShipped(o.CustomerName, o.ID))
	case domain.StatusDelivered:
		s.send(ctx, o, notify.OrderDelivered(o.CustomerName, o.ID))
	}
	return true, nil
}

// CancelOrder cancels the order unless it has already been shipped or
// delivered. A missing order is a soft failure.
func (s *Service) CancelOrder(ctx context.Context, id string) (bool, error) {
	o, ok, err := s.transition(ctx, id, func(o *domain.Order) bool {
		if o.Status == domain.StatusShipped || o.Status == domain.StatusDelivered {
			return false
		}
		o.Status = domain.StatusCancelled
		return true
	})
	if err != nil || !ok {
		return false, err
	}

	slog.InfoContext(ctx, "order cancelled", "order_id", id)
	s.send(ctx, o, notify.OrderCancelled(o.CustomerName, o.ID))
	return true, nil
}

// ApplyStockDecision drives the Pending → {Confirmed, RejectedForStock}
// transition from the inventory response channel. It is idempotent under
// at-least-once, out-of-order delivery: a decision whose target state already
// matches the current state is skipped without persisting or notifying again.
// A decision for an unknown order is discarded with a log. Persistence
// failures propagate so the subscriber leaves the message unacknowledged.
func (s *Service) ApplyStockDecision(ctx context.Context, id string, hasStock bool) error {
	target := domain.StatusRejectedForStock
	if hasStock {
		target = domain.StatusConfirmed
	}

	var applied bool
	for attempt := 0; attempt < saveRetries; attempt++ {
		o, err := s.store.Find(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "stock decision for unknown order discarded", "order_id", id, "has_stock", hasStock)
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply stock decision: %w", err)
		}

		if o.Status == target {
			slog.InfoContext(ctx, "duplicate stock decision skipped", "order_id", id, "status", target)
			return nil
		}

		o.Status = target
		err = s.store.Save(ctx, o)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("apply stock decision: %w", err)
		}

		slog.InfoContext(ctx, "stock decision applied", "order_id", id, "status", target)

		if hasStock {
			s.send(ctx, o, notify.StockConfirmed(o.CustomerName, o.ID))
		} else {
			s.send(ctx, o, notify.StockRejected(o.CustomerName, o.ID))
		}
		applied = true
		break
	}
	if !applied {
		return fmt.Errorf("apply stock decision: %w", store.ErrVersionConflict)
	}
	return nil
}

// transition re-reads the order, applies mutate and saves with the version
// token, retrying on conflict. mutate returns false to refuse the transition
// (soft failure). ok is false for both refusals and missing orders.
func (s *Service) transition(ctx context.Context, id string, mutate func(*domain.Order) bool) (o *domain.Order, ok bool, err error) {
	for attempt := 0; attempt < saveRetries; attempt++ {
		o, err = s.store.Find(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "transition on unknown order", "order_id", id)
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("transition: %w", err)
		}

		if !mutate(o) {
			return nil, false, nil
		}

		err = s.store.Save(ctx, o)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("transition: %w", err)
		}
		return o, true, nil
	}
	return nil, false, fmt.Errorf("transition: %w", store.ErrVersionConflict)
}

// send delivers a notification and logs failures instead of returning them:
// a lost email is recoverable, failing the enclosing persist-then-ack path
// over it is not worth it.
func (s *Service) send(ctx context.Context, o *domain.Order, msg notify.Message) {
	if err := s.notifier.Send(ctx, o.CustomerEmail, msg); err != nil {
		slog.ErrorContext(ctx, "notification failed", "order_id", o.ID, "to", o.CustomerEmail, "subject", msg.Subject, "error", err)
	}
}
