package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

type BasketCache interface {
	Get(ctx context.Context, basketID string) (*domain.Basket, error)
	Set(ctx context.Context, basketID string, basket *domain.Basket) error
	Delete(ctx context.Context, basketID string) error
}

var ErrCacheMiss = errors.New("cache miss")
