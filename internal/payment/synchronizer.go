package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BasketStore is the part of the basket service the synchronizer needs.
type BasketStore interface {
	Get(ctx context.Context, id string) (*domain.Basket, error)
	Save(ctx context.Context, b *domain.Basket) error
}

type Synchronizer struct {
	baskets  BasketStore
	catalog  catalog.Catalog
	gateway  Gateway
	currency string
	log      *zap.Logger
	now      func() time.Time
}

func NewSynchronizer(baskets BasketStore, cat catalog.Catalog, gw Gateway, currency string, log *zap.Logger) *Synchronizer {
	return &Synchronizer{
		baskets:  baskets,
		catalog:  cat,
		gateway:  gw,
		currency: currency,
		log:      log,
		now:      time.Now,
	}
}

// SyncIntent makes the basket's gateway intent charge exactly the current
// discounted basket total plus shipping. A basket without an intent gets a
// new one; an existing intent is only ever updated. When deliveryMethodID is
// nil the method already stored on the basket is used.
func (s *Synchronizer) SyncIntent(ctx context.Context, basketID string, deliveryMethodID *int64) (*domain.Basket, error) {
	if basketID == "" {
		return nil, domain.Validation("SyncIntent", "basket id is required")
	}

	b, err := s.baskets.Get(ctx, basketID)
	if err != nil {
		return nil, err
	}
	if b.IsEmpty() {
		return nil, domain.Wrap(domain.ErrEmptyBasket, "SyncIntent", basketID)
	}

	quote, err := pricing.QuoteBasket(ctx, s.catalog, b, s.now(), pricing.Options{CheckStock: true})
	if err != nil {
		return nil, err
	}

	if deliveryMethodID == nil {
		deliveryMethodID = b.DeliveryMethodID
	}
	shipping := decimal.Zero
	if deliveryMethodID != nil {
		dm, err := s.catalog.GetDeliveryMethod(ctx, *deliveryMethodID)
		if err != nil {
			return nil, err
		}
		shipping = dm.Price
		id := dm.ID
		b.DeliveryMethodID = &id
	}
	b.ShippingPrice = shipping

	amount := pricing.MinorUnits(quote.Subtotal.Add(shipping))

	if b.PaymentIntentID == "" {
		// the key covers the amount: Stripe rejects a reused key with other parameters
		intent, err := s.gateway.CreateIntent(ctx, CreateIntentRequest{
			Amount:         amount,
			Currency:       s.currency,
			IdempotencyKey: fmt.Sprintf("intent-%s-%d-%d", b.ID, b.CreatedAt.UnixNano(), amount),
		})
		if err != nil {
			return nil, domain.External("SyncIntent", err)
		}
		if intent.Amount != amount {
			if err := s.gateway.UpdateIntent(ctx, intent.ID, amount); err != nil {
				return nil, domain.External("SyncIntent", err)
			}
		}
		b.PaymentIntentID = intent.ID
		b.ClientSecret = intent.ClientSecret
		s.log.Info("payment intent created",
			zap.String("basket_id", b.ID),
			zap.String("intent_id", intent.ID),
			zap.Int64("amount", amount))
	} else {
		if err := s.gateway.UpdateIntent(ctx, b.PaymentIntentID, amount); err != nil {
			return nil, domain.External("SyncIntent", err)
		}
		s.log.Debug("payment intent updated",
			zap.String("basket_id", b.ID),
			zap.String("intent_id", b.PaymentIntentID),
			zap.Int64("amount", amount))
	}

	if err := s.baskets.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("save basket %s: %w", b.ID, err)
	}
	return b, nil
}
