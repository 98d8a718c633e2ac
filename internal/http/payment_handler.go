package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type IntentSynchronizer interface {
	SyncIntent(ctx context.Context, basketID string, deliveryMethodID *int64) (*domain.Basket, error)
}

type PaymentHandler struct {
	sync    IntentSynchronizer
	timeout time.Duration
	log     *zap.Logger
}

func NewPaymentHandler(sync IntentSynchronizer, timeout time.Duration, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{sync: sync, timeout: timeout, log: log}
}

type SyncIntentRequestDTO struct {
	DeliveryMethodID *int64 `json:"delivery_method_id,omitempty"`
}

// SyncIntent creates or updates the basket's payment intent. The body is optional.
func (h *PaymentHandler) SyncIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SyncIntentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.DeliveryMethodID != nil && *req.DeliveryMethodID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_delivery_method", "delivery_method_id must be positive")
		return
	}

	b, err := h.sync.SyncIntent(ctx, chi.URLParam(r, "basketID"), req.DeliveryMethodID)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}
