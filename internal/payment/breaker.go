package payment

import (
	"context"

	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerGateway stops calling the wrapped gateway while it keeps failing.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[Intent]
}

func NewBreakerGateway(next Gateway, cfg circuitbreaker.Config, log *zap.Logger) *BreakerGateway {
	return &BreakerGateway{
		next: next,
		cb:   circuitbreaker.New[Intent](cfg, log, IsRequestError),
	}
}

func (g *BreakerGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	return g.cb.Execute(func() (Intent, error) {
		return g.next.CreateIntent(ctx, req)
	})
}

func (g *BreakerGateway) UpdateIntent(ctx context.Context, intentID string, amount int64) error {
	_, err := g.cb.Execute(func() (Intent, error) {
		return Intent{}, g.next.UpdateIntent(ctx, intentID, amount)
	})
	return err
}
