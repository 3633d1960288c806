package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoItems         = errors.New("order must contain at least one item")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
	ErrNegativePrice   = errors.New("item unit price cannot be negative")
)

// Order is the aggregate root of the confirmation saga. Everything except
// Status and Version is immutable after creation; Status is mutated only by
// the lifecycle service and Version is bumped by the store on every write.
type Order struct {
	ID            string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Items         []OrderItem
	TotalAmount   float64
	Status        Status
	Version       int
	CreatedAt     time.Time
}

type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   float64
}

// Subtotal is the line total; it is derived, never stored.
func (i OrderItem) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// NewOrder validates the items, assigns a fresh identifier, computes the
// total and returns a PENDING order ready to be persisted.
func NewOrder(customerID, customerName, customerEmail string, items []OrderItem) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	var total float64
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.UnitPrice < 0 {
			return nil, ErrNegativePrice
		}
		total += item.Subtotal()
	}

	copied := make([]OrderItem, len(items))
	copy(copied, items)

	return &Order{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		Items:         copied,
		TotalAmount:   total,
		Status:        StatusPending,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
