package repository

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
)

// BasketRepository stores whole basket aggregates. Every write replaces the
// stored document, so concurrent edits resolve as last writer wins.
// A missing basket is reported as domain.ErrBasketNotFound.
type BasketRepository interface {
	GetBasket(ctx context.Context, id string) (*domain.Basket, error)
	SaveBasket(ctx context.Context, basket *domain.Basket) error
	DeleteBasket(ctx context.Context, id string) error
}
