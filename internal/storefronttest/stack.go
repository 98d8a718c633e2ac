// Package storefronttest assembles the whole HTTP service on in-memory and
// temporary backends for end-to-end tests.
package storefronttest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/basket"
	"github.com/fjod/storefront/internal/basket/baskettest"
	"github.com/fjod/storefront/internal/basket/cache"
	api "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/idempotency"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/order"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/reconcile"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/internal/store/storetest"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const WebhookSecret = "whsec_storefronttest"

type Notification struct {
	Kind    notify.Kind
	OrderID string
}

type RecordingNotifier struct {
	mu   sync.Mutex
	jobs []Notification
}

func (n *RecordingNotifier) Enqueue(_ context.Context, kind notify.Kind, orderID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, Notification{Kind: kind, OrderID: orderID})
	return nil
}

func (n *RecordingNotifier) Jobs() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.jobs...)
}

// Stack is a running service. The catalog is the seeded SQLite catalog.
type Stack struct {
	Handler    http.Handler
	Store      *store.Store
	Baskets    *basket.Service
	BasketRepo *baskettest.MemoryRepository
	Gateway    *payment.FakeGateway
	Notifier   *RecordingNotifier
	Redis      *miniredis.Miniredis
}

func NewStack(t testing.TB) *Stack {
	t.Helper()
	log := zap.NewNop()

	st := storetest.NewSQLite(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := baskettest.NewMemoryRepository()
	baskets := basket.NewService(repo, cache.NewRedisCache(rdb), st, log)
	gw := payment.NewFakeGateway()
	notifier := &RecordingNotifier{}

	const timeout = 5 * time.Second
	handlers := api.Handlers{
		Baskets:  api.NewBasketHandler(baskets, timeout, log),
		Payments: api.NewPaymentHandler(payment.NewSynchronizer(baskets, st, gw, "usd", log), timeout, log),
		Orders:   api.NewOrdersHandler(order.NewService(baskets, st, st, gw, log), timeout, log),
		Webhooks: api.NewWebhookHandler(
			payment.NewWebhookVerifier(WebhookSecret),
			reconcile.NewReconciler(st, notifier, log),
			idempotency.NewClaims(rdb, "webhook", time.Hour, idempotency.DefaultLease),
			timeout, log),
	}

	return &Stack{
		Handler:    api.NewRouter(handlers, 10*time.Second, log),
		Store:      st,
		Baskets:    baskets,
		BasketRepo: repo,
		Gateway:    gw,
		Notifier:   notifier,
		Redis:      mr,
	}
}

// SignedEvent builds a payment_intent webhook delivery and its Stripe-Signature header.
func SignedEvent(eventID, eventType, intentID string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","type":%q,"data":{"object":{"id":%q,"object":"payment_intent"}}}`,
		eventID, eventType, intentID))
	return payload, Sign(payload, WebhookSecret, time.Now())
}

func Sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
