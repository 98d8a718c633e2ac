// Package baskettest provides an in-memory basket repository for tests.
package baskettest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

// MemoryRepository keeps baskets serialized so callers never share state with it.
type MemoryRepository struct {
	mu      sync.Mutex
	baskets map[string][]byte
	err     error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{baskets: make(map[string][]byte)}
}

// FailWith makes every subsequent call return err; nil restores normal behaviour.
func (r *MemoryRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *MemoryRepository) GetBasket(_ context.Context, id string) (*domain.Basket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	data, ok := r.baskets[id]
	if !ok {
		return nil, domain.ErrBasketNotFound
	}
	var b domain.Basket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *MemoryRepository) SaveBasket(_ context.Context, b *domain.Basket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	r.baskets[b.ID] = data
	return nil
}

func (r *MemoryRepository) DeleteBasket(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.baskets[id]; !ok {
		return domain.ErrBasketNotFound
	}
	delete(r.baskets, id)
	return nil
}

func (r *MemoryRepository) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.baskets[id]
	return ok
}
