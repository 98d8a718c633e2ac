package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 15 * time.Minute
	maxJitter  = 5 // minutes, exclusive
)

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: defaultTTL,
	}
}

type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, basketID string) (*domain.Basket, error) {
	data, err := r.client.Get(ctx, cacheKey(basketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var basket domain.Basket
	if err := json.Unmarshal(data, &basket); err != nil {
		return nil, fmt.Errorf("unmarshal basket failed: %w", err)
	}

	return &basket, nil
}

// Set stores the basket with a jittered TTL so entries written together do
// not expire together.
func (r *RedisCache) Set(ctx context.Context, basketID string, basket *domain.Basket) error {
	data, err := json.Marshal(basket)
	if err != nil {
		return fmt.Errorf("marshal basket failed: %w", err)
	}

	jitter := time.Duration(rand.IntN(maxJitter)) * time.Minute
	if err := r.client.Set(ctx, cacheKey(basketID), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, basketID string) error {
	if err := r.client.Del(ctx, cacheKey(basketID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(basketID string) string {
	return fmt.Sprintf("basket:%s", basketID)
}
