package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "Pending"
	OrderStatusPaymentReceived OrderStatus = "PaymentReceived"
	OrderStatusPaymentFailed   OrderStatus = "PaymentFailed"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaymentReceived || s == OrderStatusPaymentFailed
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether an order may move from s to next.
// Only Pending orders move, and only into a terminal status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && next.IsTerminal()
}

// Address is the shipping address copied into an order.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderItem is a snapshot of a basket line at order time. Price is the
// discounted unit price.
type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ImageURL    string          `json:"image_url,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	BuyerEmail      string          `json:"buyer_email"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingAddress Address         `json:"shipping_address"`
	DeliveryMethod  DeliveryMethod  `json:"delivery_method"`
	Items           []OrderItem     `json:"items"`
	PaymentIntentID string          `json:"payment_intent_id"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	Status          OrderStatus     `json:"status"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Total is the amount charged: subtotal plus shipping.
func (o *Order) Total() decimal.Decimal {
	return o.Subtotal.Add(o.DeliveryMethod.Price)
}
