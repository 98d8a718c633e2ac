// Package order turns a synced basket into an immutable order.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const basketDeleteTimeout = 5 * time.Second

type BasketStore interface {
	Get(ctx context.Context, id string) (*domain.Basket, error)
	Delete(ctx context.Context, id string) error
}

// Store is the order persistence the workflow needs; *store.Store satisfies it.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx *store.Tx) error) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerEmail string) ([]*domain.Order, error)
}

type CreateOrderRequest struct {
	BasketID         string         `json:"basket_id"`
	DeliveryMethodID int64          `json:"delivery_method_id"`
	ShippingAddress  domain.Address `json:"shipping_address"`
	BuyerEmail       string         `json:"-"`
}

type Service struct {
	baskets BasketStore
	catalog catalog.Catalog
	store   Store
	gateway payment.Gateway
	log     *zap.Logger
	now     func() time.Time
}

func NewService(baskets BasketStore, cat catalog.Catalog, st Store, gw payment.Gateway, log *zap.Logger) *Service {
	return &Service{
		baskets: baskets,
		catalog: cat,
		store:   st,
		gateway: gw,
		log:     log,
		now:     time.Now,
	}
}

// CreateOrder snapshots the basket into a Pending order bound to the
// basket's payment intent. Any older order on the same intent is replaced,
// the intent amount is brought in line with the order total, and the basket
// is consumed. Nothing is persisted unless every step succeeds.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("basket_id", req.BasketID))

	b, err := s.baskets.Get(ctx, req.BasketID)
	if err != nil {
		return nil, err
	}
	if b.IsEmpty() {
		return nil, domain.Wrap(domain.ErrEmptyBasket, "CreateOrder", req.BasketID)
	}
	if b.PaymentIntentID == "" {
		return nil, domain.Wrap(domain.ErrIntentMissing, "CreateOrder", "sync payment intent first")
	}

	now := s.now().UTC()
	quote, err := pricing.QuoteBasket(ctx, s.catalog, b, now, pricing.Options{})
	if err != nil {
		return nil, err
	}

	dm, err := s.catalog.GetDeliveryMethod(ctx, req.DeliveryMethodID)
	if err != nil {
		return nil, err
	}

	order := buildOrder(req, b, quote, *dm, now)

	payload, err := json.Marshal(domain.OrderCreated{
		OrderID:         order.ID,
		BasketID:        b.ID,
		PaymentIntentID: order.PaymentIntentID,
		BuyerEmail:      order.BuyerEmail,
		CreatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order.created: %w", err)
	}

	err = s.store.WithinTx(ctx, func(tx *store.Tx) error {
		replaced, err := tx.DeletePendingOrderByIntent(ctx, order.PaymentIntentID)
		if err != nil {
			return err
		}
		if replaced {
			log.Info("replacing stale order", zap.String("intent_id", order.PaymentIntentID))
		} else {
			settled, err := tx.GetOrderByIntent(ctx, order.PaymentIntentID)
			switch {
			case err == nil:
				return domain.Wrap(domain.ErrDuplicateIntent, "CreateOrder",
					fmt.Sprintf("order %s is %s", settled.ID, settled.Status))
			case !errors.Is(err, domain.ErrOrderNotFound):
				return err
			}
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		if err := tx.InsertOutboxEvent(ctx, &store.OutboxEvent{
			ID:            uuid.NewString(),
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderCreated,
			Payload:       payload,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		// last step before commit, so a gateway failure leaves no order behind
		amount := pricing.MinorUnits(order.Total())
		if err := s.gateway.UpdateIntent(ctx, order.PaymentIntentID, amount); err != nil {
			return domain.External("CreateOrder", err)
		}
		return nil
	})
	if err != nil {
		log.Warn("create order failed", zap.Error(err))
		return nil, err
	}

	s.consumeBasket(ctx, b.ID, log)

	log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("intent_id", order.PaymentIntentID),
		zap.String("total", order.Total().StringFixed(2)))
	return order, nil
}

// consumeBasket deletes the basket once the order is committed. It must
// outlive a cancelled request; the order.created event retries it anyway.
func (s *Service) consumeBasket(ctx context.Context, basketID string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), basketDeleteTimeout)
	defer cancel()

	err := s.baskets.Delete(ctx, basketID)
	if err != nil && !errors.Is(err, domain.ErrBasketNotFound) {
		log.Error("delete basket after checkout failed", zap.Error(err))
	}
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, domain.Validation("GetOrder", "order id is required")
	}
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns the buyer's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, buyerEmail string) ([]*domain.Order, error) {
	if buyerEmail == "" {
		return nil, domain.Validation("ListOrders", "buyer email is required")
	}
	return s.store.ListOrdersByBuyer(ctx, buyerEmail)
}

func buildOrder(req CreateOrderRequest, b *domain.Basket, q *pricing.Quote, dm domain.DeliveryMethod, now time.Time) *domain.Order {
	items := make([]domain.OrderItem, 0, len(q.Lines))
	for _, line := range q.Lines {
		items = append(items, domain.OrderItem{
			ProductID:   line.Product.ID,
			ProductName: line.Product.Name,
			ImageURL:    line.Product.ImageURL,
			Price:       line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		BuyerEmail:      req.BuyerEmail,
		Subtotal:        q.Subtotal,
		ShippingAddress: req.ShippingAddress,
		DeliveryMethod:  dm,
		Items:           items,
		PaymentIntentID: b.PaymentIntentID,
		DiscountValue:   q.DiscountTotal,
		Status:          domain.OrderStatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// only a discount that actually priced a line counts toward its usage
	if q.Discount != nil && q.DiscountTotal.IsPositive() {
		order.DiscountCode = q.Discount.Code
	}
	return order
}

func validate(req CreateOrderRequest) error {
	const op = "CreateOrder"
	if strings.TrimSpace(req.BasketID) == "" {
		return domain.Validation(op, "basket id is required")
	}
	if req.BuyerEmail == "" {
		return domain.Validation(op, "buyer email is required")
	}
	if _, err := mail.ParseAddress(req.BuyerEmail); err != nil {
		return domain.Validation(op, "buyer email is malformed")
	}
	if req.DeliveryMethodID <= 0 {
		return domain.Validation(op, "delivery method is required")
	}

	a := req.ShippingAddress
	missing := make([]string, 0)
	for _, f := range []struct{ name, value string }{
		{"name", a.Name},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.Validation(op, "shipping address is missing "+strings.Join(missing, ", "))
	}
	return nil
}
