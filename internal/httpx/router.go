package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/orders", handler.CreateOrder)
	r.Get("/orders", handler.ListOrders)
	r.Get("/orders/{id}", handler.GetOrderByID)
	r.Patch("/orders/{id}/status", handler.UpdateStatus)
	r.Post("/orders/{id}/cancel", handler.CancelOrder)
	return r
}
