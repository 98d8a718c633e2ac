// Package basket implements the basket store: a keyed, mutable cart that is
// read through a Redis cache and persisted as one MongoDB document.
package basket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/basket/cache"
	"github.com/fjod/storefront/internal/basket/repository"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const cacheTimeout = time.Second

type Service struct {
	repo    repository.BasketRepository
	cache   cache.BasketCache
	catalog catalog.Catalog
	log     *zap.Logger
	now     func() time.Time
	sfg     singleflight.Group // Prevents cache stampede
}

func NewService(repo repository.BasketRepository, c cache.BasketCache, cat catalog.Catalog, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		cache:   c,
		catalog: cat,
		log:     log,
		now:     time.Now,
	}
}

// Get returns the basket or domain.ErrBasketNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Basket, error) {
	v, err, _ := s.sfg.Do(id, func() (interface{}, error) {
		b, err := s.cache.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get failed", zap.String("basket_id", id), zap.Error(err))
		}

		b, err = s.repo.GetBasket(ctx, id)
		if err != nil {
			return nil, err
		}

		// set before returning so it cannot land after a later invalidation
		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
		defer cancel()
		if err := s.cache.Set(setCtx, id, b); err != nil {
			s.log.Warn("cache set failed", zap.String("basket_id", id), zap.Error(err))
		}

		return b, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight hands the same pointer to every waiter
	return v.(*domain.Basket).Clone(), nil
}

// AddItem puts quantity units of a product into the basket, creating the
// basket on first use. Quantities accumulate on an existing line.
func (s *Service) AddItem(ctx context.Context, id string, productID int64, quantity int) (*domain.Basket, error) {
	if quantity < 1 {
		return nil, domain.Validation("AddItem", "quantity must be at least 1")
	}

	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, true, func(b *domain.Basket) error {
		line := b.Item(productID)
		total := quantity
		if line != nil {
			total += line.Quantity
		}
		if err := checkStock(p, total); err != nil {
			return err
		}

		if line == nil {
			item := domain.BasketItem{ProductID: productID, Quantity: quantity}
			item.Snapshot(p)
			b.Items = append(b.Items, item)
			return nil
		}
		line.Quantity = total
		return nil
	})
}

func (s *Service) Increase(ctx context.Context, id string, productID int64) (*domain.Basket, error) {
	return s.mutate(ctx, id, false, func(b *domain.Basket) error {
		line := b.Item(productID)
		if line == nil {
			return domain.ErrItemNotFound
		}

		p, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := checkStock(p, line.Quantity+1); err != nil {
			return err
		}
		line.Quantity++
		return nil
	})
}

// Decrease takes one unit off a line and drops the line when it reaches zero.
func (s *Service) Decrease(ctx context.Context, id string, productID int64) (*domain.Basket, error) {
	return s.mutate(ctx, id, false, func(b *domain.Basket) error {
		line := b.Item(productID)
		if line == nil {
			return domain.ErrItemNotFound
		}
		b.SetQuantity(productID, line.Quantity-1)
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, id string, productID int64) (*domain.Basket, error) {
	return s.mutate(ctx, id, false, func(b *domain.Basket) error {
		if !b.RemoveItem(productID) {
			return domain.ErrItemNotFound
		}
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteBasket(ctx, id); err != nil {
		return err
	}
	s.invalidateCache(id)
	return nil
}

// Merge folds the guest basket into the user's basket when a guest signs in.
// Quantities of the same product are summed and the guest basket is removed.
func (s *Service) Merge(ctx context.Context, guestID, userID string) (*domain.Basket, error) {
	if guestID == "" || userID == "" {
		return nil, domain.Validation("Merge", "guest id and user id are required")
	}
	if guestID == userID {
		return nil, domain.Validation("Merge", "guest id and user id must differ")
	}

	guest, err := s.repo.GetBasket(ctx, guestID)
	if err != nil && !errors.Is(err, domain.ErrBasketNotFound) {
		return nil, err
	}
	user, err := s.repo.GetBasket(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrBasketNotFound) {
		return nil, err
	}

	switch {
	case guest == nil && user == nil:
		return nil, domain.Wrap(domain.ErrBasketNotFound, "Merge", "no basket")
	case guest == nil:
		return user, nil
	case user == nil:
		guest.ID = userID
		user = guest
	default:
		for _, item := range guest.Items {
			if line := user.Item(item.ProductID); line != nil {
				line.Quantity += item.Quantity
				continue
			}
			user.Items = append(user.Items, item)
		}
		if user.DiscountID == nil {
			user.DiscountID = guest.DiscountID
		}
		if user.PaymentIntentID == "" {
			user.PaymentIntentID = guest.PaymentIntentID
			user.ClientSecret = guest.ClientSecret
		}
	}

	s.refreshSnapshots(ctx, user)
	if err := s.repo.SaveBasket(ctx, user); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteBasket(ctx, guestID); err != nil && !errors.Is(err, domain.ErrBasketNotFound) {
		return nil, err
	}

	s.invalidateCache(guestID)
	s.invalidateCache(userID)
	s.log.Info("basket merged", zap.String("guest_id", guestID), zap.String("user_id", userID))
	return user, nil
}

// ApplyDiscount attaches the discount with the given code to the basket.
func (s *Service) ApplyDiscount(ctx context.Context, id, code string) (*domain.Basket, error) {
	if code == "" {
		return nil, domain.Validation("ApplyDiscount", "discount code is required")
	}

	d, err := s.catalog.GetDiscountByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !d.ValidAt(s.now()) || d.Exhausted() {
		return nil, domain.Wrap(domain.ErrDiscountUnavailable, "ApplyDiscount", code)
	}

	return s.mutate(ctx, id, false, func(b *domain.Basket) error {
		b.DiscountID = &d.ID
		return nil
	})
}

func (s *Service) RemoveDiscount(ctx context.Context, id string) (*domain.Basket, error) {
	return s.mutate(ctx, id, false, func(b *domain.Basket) error {
		b.DiscountID = nil
		return nil
	})
}

// Save writes the whole basket as given. Used after intent sync.
func (s *Service) Save(ctx context.Context, b *domain.Basket) error {
	if err := s.repo.SaveBasket(ctx, b); err != nil {
		return err
	}
	s.invalidateCache(b.ID)
	return nil
}

// mutate is one read-modify-write of the whole aggregate.
func (s *Service) mutate(ctx context.Context, id string, create bool, fn func(b *domain.Basket) error) (*domain.Basket, error) {
	if id == "" {
		return nil, domain.Validation("basket", "basket id is required")
	}

	b, err := s.repo.GetBasket(ctx, id)
	switch {
	case errors.Is(err, domain.ErrBasketNotFound) && create:
		b = domain.NewBasket(id, s.now())
	case err != nil:
		return nil, err
	}

	if err := fn(b); err != nil {
		return nil, err
	}
	s.refreshSnapshots(ctx, b)

	if err := s.repo.SaveBasket(ctx, b); err != nil {
		s.log.Error("save basket failed", zap.String("basket_id", id), zap.Error(err))
		return nil, err
	}

	s.invalidateCache(id)
	return b, nil
}

// refreshSnapshots copies current catalog data onto every line. Lines whose
// product has gone are left alone; sync and checkout reject them.
func (s *Service) refreshSnapshots(ctx context.Context, b *domain.Basket) {
	for i := range b.Items {
		p, err := s.catalog.GetProduct(ctx, b.Items[i].ProductID)
		if err != nil {
			if !errors.Is(err, domain.ErrProductNotFound) {
				s.log.Warn("refresh snapshot failed", zap.Int64("product_id", b.Items[i].ProductID), zap.Error(err))
			}
			continue
		}
		b.Items[i].Snapshot(p)
	}
}

func (s *Service) invalidateCache(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.Warn("cache invalidate failed", zap.String("basket_id", id), zap.Error(err))
	}
}

func checkStock(p *domain.Product, requested int) error {
	if p.Stock < requested {
		return domain.Wrap(domain.ErrInsufficientStock, "basket",
			fmt.Sprintf("%s: requested %d, available %d", p.Name, requested, p.Stock))
	}
	return nil
}
