package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/order/domain"
	"github.com/jcmexdev/order-saga/internal/order/store"
	"github.com/jcmexdev/order-saga/internal/pkg/cache"
)

const getOrderCacheTTL = 30 * time.Second

// OrderService is the lifecycle manager port the handlers call into.
type OrderService interface {
	CreateOrder(ctx context.Context, in order.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, requested domain.Status) (bool, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
}

// Handler handles incoming HTTP requests for the order saga.
type Handler struct {
	svc   OrderService
	cache cache.Cache // nil-safe: caching skipped if nil
}

// NewHandler initializes the handler. c may be nil — GET /orders/{id} then
// always hits the store.
func NewHandler(svc OrderService, c cache.Cache) *Handler {
	return &Handler{svc: svc, cache: c}
}

// CreateOrder receives the request, persists a PENDING order together with
// its stock-check outbox message, and returns the snapshot.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.CustomerID == "" || req.CustomerEmail == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id and customer_email are required")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	o, err := h.svc.CreateOrder(r.Context(), order.CreateOrderInput{
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
	})
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, "invalid_order", err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "create order failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "could not create order")
		return
	}

	writeJSON(w, http.StatusCreated, mapOrderToResponse(o))
}

// GetOrderByID retrieves a single order, read-through cached when a cache is
// configured.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if raw, ok := h.cachedOrder(r.Context(), orderID); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(raw))
		return
	}

	o, err := h.svc.GetOrder(r.Context(), orderID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "get order failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not load order")
		return
	}

	resp := mapOrderToResponse(o)
	h.storeInCache(r.Context(), orderID, resp)
	writeJSON(w, http.StatusOK, resp)
}

// ListOrders returns every order snapshot.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "list orders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list orders")
		return
	}

	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, mapOrderToResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateStatus applies an administrative Shipped/Delivered transition. The
// outcome is a boolean, never an error chain — diagnostics go to the log.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	requested, ok := domain.ParseStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusOK, OperationResponse{
			Success: false,
			Message: "unknown status " + req.Status,
		})
		return
	}

	updated, err := h.svc.UpdateStatus(r.Context(), orderID, requested)
	if err != nil {
		slog.ErrorContext(r.Context(), "update status failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "update_failed", "could not update order")
		return
	}

	if updated {
		h.invalidateCache(r.Context(), orderID)
	}
	writeJSON(w, http.StatusOK, operationResult(updated, "order status updated",
		"order not found or status not allowed"))
}

// CancelOrder cancels the order unless it was already shipped or delivered.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	cancelled, err := h.svc.CancelOrder(r.Context(), orderID)
	if err != nil {
		slog.ErrorContext(r.Context(), "cancel order failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "cancel_failed", "could not cancel order")
		return
	}

	if cancelled {
		h.invalidateCache(r.Context(), orderID)
	}
	writeJSON(w, http.StatusOK, operationResult(cancelled, "order cancelled",
		"order not found or can no longer be cancelled"))
}

func (h *Handler) cachedOrder(ctx context.Context, orderID string) (string, bool) {
	if h.cache == nil {
		return "", false
	}
	raw, err := h.cache.Get(ctx, h.cache.GenerateKey("get_order", orderID))
	if err != nil {
		slog.WarnContext(ctx, "cache read failed", "order_id", orderID, "error", err)
		return "", false
	}
	return raw, raw != ""
}

func (h *Handler) storeInCache(ctx context.Context, orderID string, resp OrderResponse) {
	if h.cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	key := h.cache.GenerateKey("get_order", orderID)
	if err := h.cache.Set(ctx, key, string(raw), getOrderCacheTTL); err != nil {
		slog.WarnContext(ctx, "cache write failed", "order_id", orderID, "error", err)
	}
}

func (h *Handler) invalidateCache(ctx context.Context, orderID string) {
	if h.cache == nil {
		return
	}
	key := h.cache.GenerateKey("get_order", orderID)
	if err := h.cache.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", "order_id", orderID, "error", err)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrNoItems) ||
		errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrNegativePrice)
}

func operationResult(success bool, okMsg, failMsg string) OperationResponse {
	if success {
		return OperationResponse{Success: true, Message: okMsg}
	}
	return OperationResponse{Success: false, Message: failMsg}
}

func mapOrderToResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.Subtotal(),
		}
	}
	return OrderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status.String(),
		TotalAmount:   o.TotalAmount,
		Items:         items,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
