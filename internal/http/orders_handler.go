package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/order"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, buyerEmail string) ([]*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
	log     *zap.Logger
}

func NewOrdersHandler(orders OrderService, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, timeout: timeout, log: log}
}

// OrderResponse adds the derived total to the stored order.
type OrderResponse struct {
	*domain.Order
	Total string `json:"total"`
}

func toResponse(o *domain.Order) OrderResponse {
	return OrderResponse{Order: o, Total: o.Total().StringFixed(2)}
}

func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	email := userEmailFromContext(r.Context())
	if email == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var req order.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.BuyerEmail = email

	o, err := h.orders.CreateOrder(ctx, req)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toResponse(o))
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	email := userEmailFromContext(r.Context())
	if email == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	orders, err := h.orders.ListOrders(ctx, email)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}

	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetOrder only shows buyers their own orders; anyone else gets a 404.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	email := userEmailFromContext(r.Context())
	if email == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	o, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	if o.BuyerEmail != email {
		respondDomainError(w, h.log, domain.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(o))
}
