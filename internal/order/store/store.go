// Package store defines the persistence port for the order saga.
// The lifecycle service depends on this abstraction, not on SQLite directly,
// so the implementation can be swapped for Postgres, in-memory (tests), etc.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jcmexdev/order-saga/internal/order/domain"
)

var (
	// ErrNotFound signals that the referenced order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrVersionConflict signals that the order was modified by another
	// writer between the read and this save. Callers re-read and retry.
	ErrVersionConflict = errors.New("order has been modified by another writer")
)

// OutboxMessage is a broker message persisted in the same transaction as the
// state change it describes. A relay publishes unsent rows and marks them sent
// only after the broker accepted them, so an order gets a stock check if and
// only if it was durably created.
type OutboxMessage struct {
	ID        int64
	Queue     string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}

// Store persists and retrieves Order aggregates.
type Store interface {
	// CreateWithOutbox inserts the order, its items and the outbox message
	// in a single transaction.
	CreateWithOutbox(ctx context.Context, o *domain.Order, msg OutboxMessage) error

	// Find returns the order with its items, or ErrNotFound.
	Find(ctx context.Context, id string) (*domain.Order, error)

	// List returns all orders in a stable order (creation time, then id).
	List(ctx context.Context) ([]domain.Order, error)

	// Save writes the order's status if and only if the stored version still
	// matches o.Version, then increments both. Returns ErrVersionConflict on
	// a stale version and ErrNotFound if the order no longer exists.
	Save(ctx context.Context, o *domain.Order) error

	// UnsentMessages returns up to limit outbox rows that have not been
	// published yet, oldest first.
	UnsentMessages(ctx context.Context, limit int) ([]OutboxMessage, error)

	// MarkSent records that the broker accepted the outbox message.
	MarkSent(ctx context.Context, id int64) error
}
