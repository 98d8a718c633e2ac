package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	CategoryID  int64           `json:"category_id"`
	Category    string          `json:"category,omitempty"`
	BrandID     int64           `json:"brand_id"`
	Brand       string          `json:"brand,omitempty"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
}

type DeliveryMethod struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	DeliveryTime string          `json:"delivery_time,omitempty"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
}

type DiscountScope string

const (
	DiscountScopeProduct  DiscountScope = "Product"
	DiscountScopeCategory DiscountScope = "Category"
	DiscountScopeBrand    DiscountScope = "Brand"
	DiscountScopeGlobal   DiscountScope = "Global"
)

type DiscountStatus string

const (
	DiscountStatusActive   DiscountStatus = "Active"
	DiscountStatusInactive DiscountStatus = "Inactive"
)

type Discount struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	Scope      DiscountScope   `json:"scope"`
	TargetID   int64           `json:"target_id,omitempty"`
	Percentage decimal.Decimal `json:"percentage"`
	StartsAt   time.Time       `json:"starts_at"`
	EndsAt     *time.Time      `json:"ends_at,omitempty"`
	Status     DiscountStatus  `json:"status"`
	UsageCount int             `json:"usage_count"`
	MaxUsage   *int            `json:"max_usage,omitempty"`
}

// ValidAt reports whether the discount is active and inside its window at now.
func (d *Discount) ValidAt(now time.Time) bool {
	if d.Status != DiscountStatusActive {
		return false
	}
	if now.Before(d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}

func (d *Discount) Exhausted() bool {
	return d.MaxUsage != nil && d.UsageCount >= *d.MaxUsage
}
