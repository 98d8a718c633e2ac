package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Basket is keyed by a guest session id or a user id.
type Basket struct {
	ID               string          `json:"id"`
	Items            []BasketItem    `json:"items"`
	DiscountID       *int64          `json:"discount_id,omitempty"`
	DeliveryMethodID *int64          `json:"delivery_method_id,omitempty"`
	ShippingPrice    decimal.Decimal `json:"shipping_price"`
	PaymentIntentID  string          `json:"payment_intent_id,omitempty"`
	ClientSecret     string          `json:"client_secret,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// BasketItem carries a display snapshot of the product. Price is never
// trusted for charging; it is refreshed from the catalog.
type BasketItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"image_url,omitempty"`
	Category    string          `json:"category,omitempty"`
	Brand       string          `json:"brand,omitempty"`
}

func NewBasket(id string, now time.Time) *Basket {
	return &Basket{
		ID:        id,
		Items:     []BasketItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy that shares no memory with b.
func (b *Basket) Clone() *Basket {
	c := *b
	c.Items = append([]BasketItem(nil), b.Items...)
	if b.DiscountID != nil {
		id := *b.DiscountID
		c.DiscountID = &id
	}
	if b.DeliveryMethodID != nil {
		id := *b.DeliveryMethodID
		c.DeliveryMethodID = &id
	}
	return &c
}

// Item returns the line for productID, or nil.
func (b *Basket) Item(productID int64) *BasketItem {
	for i := range b.Items {
		if b.Items[i].ProductID == productID {
			return &b.Items[i]
		}
	}
	return nil
}

// SetQuantity sets the quantity of an existing line, dropping it at zero or below.
func (b *Basket) SetQuantity(productID int64, quantity int) bool {
	for i := range b.Items {
		if b.Items[i].ProductID != productID {
			continue
		}
		if quantity <= 0 {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
		} else {
			b.Items[i].Quantity = quantity
		}
		return true
	}
	return false
}

func (b *Basket) RemoveItem(productID int64) bool {
	return b.SetQuantity(productID, 0)
}

func (b *Basket) IsEmpty() bool {
	return len(b.Items) == 0
}

// Snapshot copies catalog fields of p onto the line.
func (i *BasketItem) Snapshot(p *Product) {
	i.ProductName = p.Name
	i.Price = p.Price
	i.ImageURL = p.ImageURL
	i.Category = p.Category
	i.Brand = p.Brand
}
