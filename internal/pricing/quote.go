// Package pricing computes basket totals the same way for intent sync and
// order creation, so the charged amount always matches the order.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/discount"
	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

type Line struct {
	Product        domain.Product
	Quantity       int
	UnitPrice      decimal.Decimal
	DiscountAmount decimal.Decimal
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Quote struct {
	Lines         []Line
	Discount      *domain.Discount
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
}

type Options struct {
	// CheckStock fails the quote when a line asks for more than is available.
	CheckStock bool
}

// QuoteBasket re-fetches every line from the catalog, refreshes the basket's
// price snapshots in place and prices each line through the discount evaluator.
func QuoteBasket(ctx context.Context, cat catalog.Catalog, b *domain.Basket, now time.Time, opts Options) (*Quote, error) {
	d, err := basketDiscount(ctx, cat, b)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Lines:         make([]Line, 0, len(b.Items)),
		Discount:      d,
		Subtotal:      decimal.Zero,
		DiscountTotal: decimal.Zero,
	}

	for i := range b.Items {
		item := &b.Items[i]

		p, err := cat.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, domain.Wrap(domain.ErrProductNotFound, "QuoteBasket", fmt.Sprintf("product %d", item.ProductID))
			}
			return nil, fmt.Errorf("get product %d: %w", item.ProductID, err)
		}

		if opts.CheckStock && p.Stock < item.Quantity {
			return nil, domain.Wrap(domain.ErrInsufficientStock, "QuoteBasket",
				fmt.Sprintf("%s: requested %d, available %d", p.Name, item.Quantity, p.Stock))
		}

		item.Snapshot(p)

		unit, amount := discount.Price(d, p, item.Quantity, now)
		line := Line{
			Product:        *p,
			Quantity:       item.Quantity,
			UnitPrice:      unit,
			DiscountAmount: amount,
		}
		q.Lines = append(q.Lines, line)
		q.Subtotal = q.Subtotal.Add(line.Total())
		q.DiscountTotal = q.DiscountTotal.Add(amount)
	}

	return q, nil
}

// basketDiscount loads the attached discount; a discount that disappeared
// from the catalog is treated as absent.
func basketDiscount(ctx context.Context, cat catalog.Catalog, b *domain.Basket) (*domain.Discount, error) {
	if b.DiscountID == nil {
		return nil, nil
	}
	d, err := cat.GetDiscount(ctx, *b.DiscountID)
	if errors.Is(err, domain.ErrDiscountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get discount %d: %w", *b.DiscountID, err)
	}
	return d, nil
}

// MinorUnits converts an amount to the smallest currency unit (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
