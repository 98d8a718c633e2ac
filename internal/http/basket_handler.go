package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BasketService interface {
	Get(ctx context.Context, id string) (*domain.Basket, error)
	AddItem(ctx context.Context, id string, productID int64, quantity int) (*domain.Basket, error)
	Increase(ctx context.Context, id string, productID int64) (*domain.Basket, error)
	Decrease(ctx context.Context, id string, productID int64) (*domain.Basket, error)
	RemoveItem(ctx context.Context, id string, productID int64) (*domain.Basket, error)
	Delete(ctx context.Context, id string) error
	Merge(ctx context.Context, guestID, userID string) (*domain.Basket, error)
	ApplyDiscount(ctx context.Context, id, code string) (*domain.Basket, error)
	RemoveDiscount(ctx context.Context, id string) (*domain.Basket, error)
}

type BasketHandler struct {
	baskets BasketService
	timeout time.Duration
	log     *zap.Logger
}

func NewBasketHandler(baskets BasketService, timeout time.Duration, log *zap.Logger) *BasketHandler {
	return &BasketHandler{baskets: baskets, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type ApplyDiscountRequestDTO struct {
	Code string `json:"code"`
}

type MergeRequestDTO struct {
	GuestID string `json:"guest_id"`
}

func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	b, err := h.baskets.Get(ctx, chi.URLParam(r, "basketID"))
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *BasketHandler) DeleteBasket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.baskets.Delete(ctx, chi.URLParam(r, "basketID")); err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BasketHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	b, err := h.baskets.AddItem(ctx, chi.URLParam(r, "basketID"), req.ProductID, req.Quantity)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (h *BasketHandler) IncreaseItem(w http.ResponseWriter, r *http.Request) {
	h.itemOp(w, r, h.baskets.Increase)
}

func (h *BasketHandler) DecreaseItem(w http.ResponseWriter, r *http.Request) {
	h.itemOp(w, r, h.baskets.Decrease)
}

func (h *BasketHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.itemOp(w, r, h.baskets.RemoveItem)
}

func (h *BasketHandler) itemOp(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id string, productID int64) (*domain.Basket, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	b, err := op(ctx, chi.URLParam(r, "basketID"), productID)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *BasketHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ApplyDiscountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	b, err := h.baskets.ApplyDiscount(ctx, chi.URLParam(r, "basketID"), req.Code)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *BasketHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	b, err := h.baskets.RemoveDiscount(ctx, chi.URLParam(r, "basketID"))
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// Merge moves the caller's guest basket under their user id after sign-in.
func (h *BasketHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var req MergeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	b, err := h.baskets.Merge(ctx, req.GuestID, userID)
	if err != nil {
		respondDomainError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}
