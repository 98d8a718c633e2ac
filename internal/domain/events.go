package domain

import "time"

const (
	AggregateOrder    = "order"
	EventOrderCreated = "order.created"
)

// OrderCreated is published once the order row is committed. Its consumer
// removes the basket the order was made from.
type OrderCreated struct {
	OrderID         string    `json:"order_id"`
	BasketID        string    `json:"basket_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	BuyerEmail      string    `json:"buyer_email"`
	CreatedAt       time.Time `json:"created_at"`
}
