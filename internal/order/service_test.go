package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/notify"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/order/domain"
	"github.com/jcmexdev/order-saga/internal/order/store"
)

const stockCheckQueue = "inventory_check"

func setup(t *testing.T) (*order.Service, *mockStore, *mockNotifier) {
	t.Helper()
	st := newMockStore()
	n := &mockNotifier{}
	return order.NewService(st, n, stockCheckQueue), st, n
}

func createOrder(t *testing.T, svc *order.Service) *domain.Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), order.CreateOrderInput{
		CustomerID:    "cust-1",
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Items: []domain.OrderItem{
			{ProductID: "prod-1", ProductName: "Widget", Quantity: 2, UnitPrice: 10.00},
			{ProductID: "prod-2", ProductName: "Gadget", Quantity: 1, UnitPrice: 5.00},
		},
	})
	require.NoError(t, err)
	return o
}

func TestCreateOrder(t *testing.T) {
	svc, st, n := setup(t)

	o := createOrder(t, svc)

	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, 25.00, o.TotalAmount)

	// Order and stock-check message are persisted together.
	require.Len(t, st.outbox, 1)
	assert.Equal(t, stockCheckQueue, st.outbox[0].Queue)
	assert.Equal(t, o.ID, string(st.outbox[0].Payload))

	// One "received" notification to the customer's address.
	require.Len(t, n.sent, 1)
	assert.Equal(t, "ada@example.com", n.sent[0].to)
	assert.Equal(t, notify.OrderReceived("Ada", o.ID).Subject, n.sent[0].subject)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, st, n := setup(t)

	_, err := svc.CreateOrder(context.Background(), order.CreateOrderInput{
		CustomerID:    "cust-1",
		CustomerEmail: "ada@example.com",
	})

	assert.ErrorIs(t, err, domain.ErrNoItems)
	assert.Empty(t, st.orders)
	assert.Empty(t, st.outbox)
	assert.Empty(t, n.sent)
}

func TestCreateOrderNotificationFailureDoesNotFail(t *testing.T) {
	st := newMockStore()
	n := &mockNotifier{err: errors.New("smtp down")}
	svc := order.NewService(st, n, stockCheckQueue)

	o, err := svc.CreateOrder(context.Background(), order.CreateOrderInput{
		CustomerID:    "cust-1",
		CustomerEmail: "ada@example.com",
		Items:         []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 1}},
	})

	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.Len(t, st.orders, 1)
}

func TestGetOrderRoundTrip(t *testing.T) {
	svc, _, _ := setup(t)
	created := createOrder(t, svc)

	got, err := svc.GetOrder(context.Background(), created.ID)

	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, created.Items, got.Items)
	assert.Equal(t, created.TotalAmount, got.TotalAmount)

	_, err = svc.GetOrder(context.Background(), "no-such-order")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListOrders(t *testing.T) {
	svc, _, _ := setup(t)
	a := createOrder(t, svc)
	b := createOrder(t, svc)

	orders, err := svc.ListOrders(context.Background())

	require.NoError(t, err)
	require.Len(t, orders, 2)
	ids := []string{orders[0].ID, orders[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestApplyStockDecisionConfirms(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()

	err := svc.ApplyStockDecision(context.Background(), o.ID, true)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, st.orders[o.ID].Status)
	require.Len(t, n.sent, 1)
	assert.Equal(t, notify.StockConfirmed("Ada", o.ID).Subject, n.sent[0].subject)
}

func TestApplyStockDecisionIsIdempotent(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()

	require.NoError(t, svc.ApplyStockDecision(context.Background(), o.ID, true))
	require.NoError(t, svc.ApplyStockDecision(context.Background(), o.ID, true))

	// The duplicate must neither re-notify nor re-persist.
	assert.Equal(t, domain.StatusConfirmed, st.orders[o.ID].Status)
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 2, st.orders[o.ID].Version)
}

func TestApplyStockDecisionRejectsThenCancels(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()

	require.NoError(t, svc.ApplyStockDecision(context.Background(), o.ID, false))
	assert.Equal(t, domain.StatusRejectedForStock, st.orders[o.ID].Status)
	require.Len(t, n.sent, 1)
	assert.Equal(t, notify.StockRejected("Ada", o.ID).Subject, n.sent[0].subject)

	// A rejected order may still be cancelled: only Shipped/Delivered block.
	ok, err := svc.CancelOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, st.orders[o.ID].Status)
}

func TestApplyStockDecisionUnknownOrderIsDropped(t *testing.T) {
	svc, _, n := setup(t)

	err := svc.ApplyStockDecision(context.Background(), "no-such-order", true)

	require.NoError(t, err)
	assert.Empty(t, n.sent)
}

func TestApplyStockDecisionPersistFailurePropagates(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()
	st.saveErr = errors.New("disk full")

	err := svc.ApplyStockDecision(context.Background(), o.ID, true)

	require.Error(t, err)
	assert.Empty(t, n.sent)
}

func TestApplyStockDecisionRetriesOnVersionConflict(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()
	st.conflictsLeft = 1

	err := svc.ApplyStockDecision(context.Background(), o.ID, true)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, st.orders[o.ID].Status)
	assert.Len(t, n.sent, 1)
}

func TestUpdateStatus(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()

	t.Run("rejects anything but shipped or delivered", func(t *testing.T) {
		ok, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusConfirmed)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, domain.StatusPending, st.orders[o.ID].Status)
		assert.Empty(t, n.sent)
	})

	t.Run("missing order is a soft failure", func(t *testing.T) {
		ok, err := svc.UpdateStatus(context.Background(), "no-such-order", domain.StatusShipped)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delivered applies without a predecessor check", func(t *testing.T) {
		// The write is unconditional once the token is one of the two
		// accepted values, even on a still-pending order.
		ok, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusDelivered)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, domain.StatusDelivered, st.orders[o.ID].Status)
		require.Len(t, n.sent, 1)
		assert.Equal(t, notify.OrderDelivered("Ada", o.ID).Subject, n.sent[0].subject)
	})
}

func TestUpdateStatusShippedNotifies(t *testing.T) {
	svc, st, n := setup(t)
	o := createOrder(t, svc)
	n.Reset()

	ok, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusShipped)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusShipped, st.orders[o.ID].Status)
	require.Len(t, n.sent, 1)
	assert.Equal(t, notify.OrderShipped("Ada", o.ID).Subject, n.sent[0].subject)
}

func TestCancelOrder(t *testing.T) {
	svc, st, n := setup(t)

	t.Run("cancels a pending order", func(t *testing.T) {
		o := createOrder(t, svc)
		n.Reset()

		ok, err := svc.CancelOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, domain.StatusCancelled, st.orders[o.ID].Status)
		require.Len(t, n.sent, 1)
		assert.Equal(t, notify.OrderCancelled("Ada", o.ID).Subject, n.sent[0].subject)
	})

	t.Run("refuses once shipped", func(t *testing.T) {
		o := createOrder(t, svc)
		st.orders[o.ID].Status = domain.StatusShipped
		n.Reset()

		ok, err := svc.CancelOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, domain.StatusShipped, st.orders[o.ID].Status)
		assert.Empty(t, n.sent)
	})

	t.Run("refuses once delivered", func(t *testing.T) {
		o := createOrder(t, svc)
		st.orders[o.ID].Status = domain.StatusDelivered
		n.Reset()

		ok, err := svc.CancelOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, domain.StatusDelivered, st.orders[o.ID].Status)
	})

	t.Run("missing order is a soft failure", func(t *testing.T) {
		ok, err := svc.CancelOrder(context.Background(), "no-such-order")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// --- mocks ---

var _ store.Store = (*mockStore)(nil)

type mockStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	outbox []store.OutboxMessage

	saveErr       error
	conflictsLeft int
}

func newMockStore() *mockStore {
	return &mockStore{orders: make(map[string]*domain.Order)}
}

func (m *mockStore) CreateWithOutbox(ctx context.Context, o *domain.Order, msg store.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *o
	m.orders[o.ID] = &clone
	msg.ID = int64(len(m.outbox) + 1)
	m.outbox = append(m.outbox, msg)
	return nil
}

func (m *mockStore) Find(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (m *mockStore) List(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockStore) Save(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return store.ErrVersionConflict
	}
	existing, ok := m.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != o.Version {
		return store.ErrVersionConflict
	}
	clone := *o
	clone.Version++
	m.orders[o.ID] = &clone
	o.Version++
	return nil
}

func (m *mockStore) UnsentMessages(ctx context.Context, limit int) ([]store.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OutboxMessage
	for _, msg := range m.outbox {
		if msg.SentAt == nil && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockStore) MarkSent(ctx context.Context, id int64) error {
	return nil
}

type sentMessage struct {
	to      string
	subject string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockNotifier) Send(ctx context.Context, to string, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{to: to, subject: msg.Subject})
	return nil
}

func (m *mockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
