// Package catalogtest provides an in-memory catalog for tests.
package catalogtest

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/domain"
)

// MemoryCatalog implements catalog.Catalog with in-memory storage
type MemoryCatalog struct {
	mu         sync.RWMutex
	products   map[int64]domain.Product
	deliveries map[int64]domain.DeliveryMethod
	discounts  map[int64]domain.Discount
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products:   make(map[int64]domain.Product),
		deliveries: make(map[int64]domain.DeliveryMethod),
		discounts:  make(map[int64]domain.Discount),
	}
}

// AddProduct inserts or replaces a product
func (c *MemoryCatalog) AddProduct(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// SetStock sets the available quantity of a product
func (c *MemoryCatalog) SetStock(productID int64, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[productID]; ok {
		p.Stock = stock
		c.products[productID] = p
	}
}

func (c *MemoryCatalog) RemoveProduct(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, productID)
}

func (c *MemoryCatalog) AddDeliveryMethod(d domain.DeliveryMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries[d.ID] = d
}

func (c *MemoryCatalog) AddDiscount(d domain.Discount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discounts[d.ID] = d
}

func (c *MemoryCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (c *MemoryCatalog) GetDeliveryMethod(_ context.Context, id int64) (*domain.DeliveryMethod, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.deliveries[id]
	if !ok {
		return nil, domain.ErrDeliveryMethodNotFound
	}
	return &d, nil
}

func (c *MemoryCatalog) GetDiscount(_ context.Context, id int64) (*domain.Discount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.discounts[id]
	if !ok {
		return nil, domain.ErrDiscountNotFound
	}
	return &d, nil
}

func (c *MemoryCatalog) GetDiscountByCode(_ context.Context, code string) (*domain.Discount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.discounts {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, domain.ErrDiscountNotFound
}
