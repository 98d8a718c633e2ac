// Package discount prices a single catalog line under an optional discount.
package discount

import (
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Price returns the unit price to charge for quantity units of p and the total
// discount taken off the line. It is pure: usage counters are never touched.
func Price(d *domain.Discount, p *domain.Product, quantity int, now time.Time) (unitPrice, discountAmount decimal.Decimal) {
	if !Applies(d, p, now) {
		return p.Price, decimal.Zero
	}

	factor := decimal.NewFromInt(1).Sub(d.Percentage.Div(hundred))
	discounted := p.Price.Mul(factor).Round(2)
	amount := p.Price.Sub(discounted).Mul(decimal.NewFromInt(int64(quantity))).Round(2)

	return discounted, amount
}

// Applies reports whether d takes effect on p at now.
func Applies(d *domain.Discount, p *domain.Product, now time.Time) bool {
	if d == nil || !d.ValidAt(now) {
		return false
	}

	switch d.Scope {
	case domain.DiscountScopeGlobal:
		return true
	case domain.DiscountScopeProduct:
		return d.TargetID == p.ID
	case domain.DiscountScopeCategory:
		return d.TargetID == p.CategoryID
	case domain.DiscountScopeBrand:
		return d.TargetID == p.BrandID
	default:
		return false
	}
}
