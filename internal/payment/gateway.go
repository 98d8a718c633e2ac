// Package payment keeps a gateway payment intent in step with a basket and
// parses the gateway's signed webhook deliveries.
package payment

import "context"

// Intent is the gateway's view of a pending charge. Amount is in minor units.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
}

type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// Gateway is the payment provider. Implementations must be safe for
// concurrent use.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	UpdateIntent(ctx context.Context, intentID string, amount int64) error
}
