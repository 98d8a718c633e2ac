// Package catalog describes the read side of the external product catalog.
package catalog

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
)

// Catalog is what the basket, pricing and order code need from the catalog.
// Consumers define this interface; the SQL store implements it.
//
// Missing entities are reported as domain.ErrProductNotFound,
// domain.ErrDeliveryMethodNotFound and domain.ErrDiscountNotFound.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetDeliveryMethod(ctx context.Context, id int64) (*domain.DeliveryMethod, error)
	GetDiscount(ctx context.Context, id int64) (*domain.Discount, error)
	GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error)
}
