package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/order/domain"
)

func TestNewOrder(t *testing.T) {
	items := []domain.OrderItem{
		{ProductID: "prod-1", ProductName: "Widget", Quantity: 2, UnitPrice: 10.00},
		{ProductID: "prod-2", ProductName: "Gadget", Quantity: 1, UnitPrice: 5.00},
	}

	o, err := domain.NewOrder("cust-1", "Ada", "ada@example.com", items)

	require.NoError(t, err)
	require.NotNil(t, o)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, 25.00, o.TotalAmount)
	assert.Equal(t, 1, o.Version)
	assert.False(t, o.CreatedAt.IsZero())

	require.Len(t, o.Items, 2)
	assert.Equal(t, 20.00, o.Items[0].Subtotal())
	assert.Equal(t, 5.00, o.Items[1].Subtotal())

	// The order owns a copy of the items.
	items[0].Quantity = 99
	assert.Equal(t, 2, o.Items[0].Quantity)
}

func TestNewOrderValidation(t *testing.T) {
	t.Run("empty items", func(t *testing.T) {
		_, err := domain.NewOrder("cust-1", "Ada", "ada@example.com", nil)
		assert.ErrorIs(t, err, domain.ErrNoItems)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		_, err := domain.NewOrder("cust-1", "Ada", "ada@example.com", []domain.OrderItem{
			{ProductID: "prod-1", Quantity: 0, UnitPrice: 1},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	})

	t.Run("negative price", func(t *testing.T) {
		_, err := domain.NewOrder("cust-1", "Ada", "ada@example.com", []domain.OrderItem{
			{ProductID: "prod-1", Quantity: 1, UnitPrice: -0.01},
		})
		assert.ErrorIs(t, err, domain.ErrNegativePrice)
	})

	t.Run("zero price is allowed", func(t *testing.T) {
		o, err := domain.NewOrder("cust-1", "Ada", "ada@example.com", []domain.OrderItem{
			{ProductID: "prod-1", Quantity: 1, UnitPrice: 0},
		})
		require.NoError(t, err)
		assert.Equal(t, 0.00, o.TotalAmount)
	})
}

func TestParseStatus(t *testing.T) {
	cases := map[string]domain.Status{
		"Shipped":            domain.StatusShipped,
		"SHIPPED":            domain.StatusShipped,
		" delivered ":        domain.StatusDelivered,
		"pending":            domain.StatusPending,
		"confirmed":          domain.StatusConfirmed,
		"rejected_for_stock": domain.StatusRejectedForStock,
		"cancelled":          domain.StatusCancelled,
	}
	for token, want := range cases {
		got, ok := domain.ParseStatus(token)
		require.True(t, ok, "token %q", token)
		assert.Equal(t, want, got)
	}

	_, ok := domain.ParseStatus("Bogus")
	assert.False(t, ok)
	_, ok = domain.ParseStatus("")
	assert.False(t, ok)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, domain.StatusRejectedForStock.Terminal())
	assert.True(t, domain.StatusDelivered.Terminal())
	assert.True(t, domain.StatusCancelled.Terminal())

	assert.False(t, domain.StatusPending.Terminal())
	assert.False(t, domain.StatusConfirmed.Terminal())
	assert.False(t, domain.StatusShipped.Terminal())
}
