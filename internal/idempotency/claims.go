// Package idempotency remembers which gateway events have been handled.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL   = 72 * time.Hour
	DefaultLease = 30 * time.Second
)

const (
	markerProcessing = "processing"
	markerDone       = "done"
)

// State is what a Claim found for an event id.
type State int

const (
	// Claimed means the caller holds the processing lease.
	Claimed State = iota
	// InProgress means another delivery holds the lease right now.
	InProgress
	// Done means the event was handled and must not be applied again.
	Done
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InProgress:
		return "in_progress"
	case Done:
		return "done"
	}
	return "unknown"
}

// Claims tracks event ids in Redis in two steps. Claim takes a short lease
// so a crashed handler does not block retries for long; Complete turns the
// lease into a long-lived marker once handling succeeded.
type Claims struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	lease  time.Duration
}

func NewClaims(client redis.UniversalClient, prefix string, ttl, lease time.Duration) *Claims {
	return &Claims{client: client, prefix: prefix, ttl: ttl, lease: lease}
}

func (c *Claims) Claim(ctx context.Context, eventID string) (State, error) {
	key := c.key(eventID)
	ok, err := c.client.SetNX(ctx, key, markerProcessing, c.lease).Result()
	if err != nil {
		return Claimed, fmt.Errorf("claim %s: %w", eventID, err)
	}
	if ok {
		return Claimed, nil
	}

	marker, err := c.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// lease lapsed between the two calls; let the gateway retry
		return InProgress, nil
	case err != nil:
		return Claimed, fmt.Errorf("claim %s: %w", eventID, err)
	case marker == markerDone:
		return Done, nil
	}
	return InProgress, nil
}

// Complete records eventID as handled for the full retention window.
func (c *Claims) Complete(ctx context.Context, eventID string) error {
	if err := c.client.Set(ctx, c.key(eventID), markerDone, c.ttl).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", eventID, err)
	}
	return nil
}

func (c *Claims) Release(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, c.key(eventID)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", eventID, err)
	}
	return nil
}

func (c *Claims) key(eventID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, eventID)
}
