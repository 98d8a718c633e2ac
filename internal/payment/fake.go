package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownIntent = errors.New("payment: unknown intent")
	// ErrIdempotencyMismatch mirrors Stripe's idempotency_error: a key was
	// reused with different request parameters.
	ErrIdempotencyMismatch = errors.New("payment: idempotency key reused with different parameters")
)

// FakeGateway keeps intents in memory. It is used for local runs without a
// Stripe account and by tests that need to inspect what was sent.
type FakeGateway struct {
	mu          sync.Mutex
	seq         int
	intents     map[string]Intent
	idempotency map[string]idempotentCreate
	createCalls int
	updateCalls int
	failNext    error
}

// idempotentCreate remembers the parameters a key was first used with.
type idempotentCreate struct {
	intentID string
	amount   int64
	currency string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		intents:     make(map[string]Intent),
		idempotency: make(map[string]idempotentCreate),
	}
}

// FailNext makes the next create or update call return err.
func (g *FakeGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *FakeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.createCalls++
	if err := g.takeFailure(); err != nil {
		return Intent{}, err
	}
	if key, ok := g.idempotency[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		if key.amount != req.Amount || key.currency != req.Currency {
			return Intent{}, fmt.Errorf("%w: %s", ErrIdempotencyMismatch, req.IdempotencyKey)
		}
		return g.intents[key.intentID], nil
	}

	g.seq++
	id := fmt.Sprintf("pi_fake_%d", g.seq)
	intent := Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + randomHex(8),
		Amount:       req.Amount,
		Currency:     req.Currency,
	}
	g.intents[id] = intent
	if req.IdempotencyKey != "" {
		g.idempotency[req.IdempotencyKey] = idempotentCreate{intentID: id, amount: req.Amount, currency: req.Currency}
	}
	return intent, nil
}

func (g *FakeGateway) UpdateIntent(ctx context.Context, intentID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.updateCalls++
	if err := g.takeFailure(); err != nil {
		return err
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIntent, intentID)
	}
	intent.Amount = amount
	g.intents[intentID] = intent
	return nil
}

// Intent returns the stored intent, for assertions.
func (g *FakeGateway) Intent(id string) (Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	return intent, ok
}

// Calls returns how many create and update calls reached the gateway.
func (g *FakeGateway) Calls() (creates, updates int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.updateCalls
}

func (g *FakeGateway) takeFailure() error {
	err := g.failNext
	g.failNext = nil
	return err
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
