// Package reconcile applies gateway payment outcomes to orders exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/pkg/logger"
	"go.uber.org/zap"
)

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx *store.Tx) error) error
}

type Notifier interface {
	Enqueue(ctx context.Context, kind notify.Kind, orderID string) error
}

type Reconciler struct {
	store    TxRunner
	notifier Notifier
	log      *zap.Logger
}

func NewReconciler(st TxRunner, n Notifier, log *zap.Logger) *Reconciler {
	return &Reconciler{store: st, notifier: n, log: log}
}

// HandleSucceeded marks the intent's order PaymentReceived, takes its items
// out of stock and counts the discount use. It reports whether an order was
// bound to the intent; repeated deliveries are no-ops that still report true.
func (r *Reconciler) HandleSucceeded(ctx context.Context, intentID string) (bool, error) {
	return r.handle(ctx, intentID, domain.OrderStatusPaymentReceived, notify.KindOrderConfirmation)
}

// HandleFailed marks the intent's order PaymentFailed. Stock and discount
// usage are left alone.
func (r *Reconciler) HandleFailed(ctx context.Context, intentID string) (bool, error) {
	return r.handle(ctx, intentID, domain.OrderStatusPaymentFailed, notify.KindPaymentFailed)
}

func (r *Reconciler) handle(ctx context.Context, intentID string, to domain.OrderStatus, kind notify.Kind) (bool, error) {
	if intentID == "" {
		return false, domain.Validation("reconcile", "intent id is required")
	}
	log := logger.WithContext(ctx, r.log).With(
		zap.String("intent_id", intentID),
		zap.String("target_status", to.String()))

	var (
		found   bool
		applied *domain.Order
	)
	err := r.store.WithinTx(ctx, func(tx *store.Tx) error {
		order, err := tx.GetOrderByIntent(ctx, intentID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		if order.Status != domain.OrderStatusPending {
			log.Info("order already settled", zap.String("order_id", order.ID), zap.String("status", order.Status.String()))
			return nil
		}

		won, err := tx.TransitionOrderStatus(ctx, order.ID, domain.OrderStatusPending, to)
		if err != nil {
			return err
		}
		if !won {
			log.Info("concurrent delivery settled the order first", zap.String("order_id", order.ID))
			return nil
		}

		if to == domain.OrderStatusPaymentReceived {
			if err := r.consumeStock(ctx, tx, order, log); err != nil {
				return err
			}
			if err := r.countDiscountUse(ctx, tx, order, log); err != nil {
				return err
			}
		}

		order.Status = to
		applied = order
		return nil
	})
	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		return false, err
	}

	if applied == nil {
		if !found {
			log.Info("no order for intent")
		}
		return found, nil
	}

	log.Info("order status changed", zap.String("order_id", applied.ID))
	// the order is committed; a request deadline must not drop the notification
	if err := r.notifier.Enqueue(context.WithoutCancel(ctx), kind, applied.ID); err != nil {
		log.Warn("failed to enqueue notification", zap.String("order_id", applied.ID), zap.Error(err))
	}
	return true, nil
}

func (r *Reconciler) consumeStock(ctx context.Context, tx *store.Tx, order *domain.Order, log *zap.Logger) error {
	for _, item := range order.Items {
		p, err := tx.GetProduct(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			log.Warn("ordered product no longer exists, stock untouched",
				zap.String("order_id", order.ID),
				zap.Int64("product_id", item.ProductID))
			continue
		}
		if err != nil {
			return err
		}

		if p.Stock < item.Quantity {
			return oversell(order, p, item.Quantity)
		}
		ok, err := tx.DecrementStock(ctx, p.ID, item.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return oversell(order, p, item.Quantity)
		}
	}
	return nil
}

func (r *Reconciler) countDiscountUse(ctx context.Context, tx *store.Tx, order *domain.Order, log *zap.Logger) error {
	if order.DiscountCode == "" {
		return nil
	}
	err := tx.IncrementDiscountUsage(ctx, order.DiscountCode)
	if errors.Is(err, domain.ErrDiscountNotFound) {
		log.Warn("discount no longer exists, usage not counted",
			zap.String("order_id", order.ID),
			zap.String("discount_code", order.DiscountCode))
		return nil
	}
	return err
}

func oversell(order *domain.Order, p *domain.Product, quantity int) error {
	return domain.Wrap(domain.ErrOversell, "HandleSucceeded",
		fmt.Sprintf("order %s: %s needs %d, %d in stock", order.ID, p.Name, quantity, p.Stock))
}
