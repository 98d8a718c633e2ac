package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/store"
	"github.com/fjod/storefront/internal/store/storetest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type enqueued struct {
	kind    notify.Kind
	orderID string
}

type recordingNotifier struct {
	mu        sync.Mutex
	jobs      []enqueued
	err       error
	cancelled []bool
}

func (n *recordingNotifier) Enqueue(ctx context.Context, kind notify.Kind, orderID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, ctx.Err() != nil)
	if n.err != nil {
		return n.err
	}
	n.jobs = append(n.jobs, enqueued{kind, orderID})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store    *store.Store
	notifier *recordingNotifier
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storetest.NewSQLite(t)
	require.NoError(t, st.SaveProduct(ctx, &domain.Product{ID: 101, Name: "Desk Lamp", Price: dec("50"), Stock: 5}))
	require.NoError(t, st.SaveProduct(ctx, &domain.Product{ID: 102, Name: "Cable", Price: dec("5"), Stock: 1}))
	require.NoError(t, st.SaveDiscount(ctx, &domain.Discount{
		ID: 101, Code: "LAMPS20", Scope: domain.DiscountScopeProduct, TargetID: 101,
		Percentage: dec("20"), StartsAt: time.Now().Add(-time.Hour), Status: domain.DiscountStatusActive,
	}))

	n := &recordingNotifier{}
	return &fixture{store: st, notifier: n, rec: NewReconciler(st, n, zap.NewNop())}
}

func (f *fixture) placeOrder(t *testing.T, intentID, discountCode string, items ...domain.OrderItem) *domain.Order {
	t.Helper()
	now := time.Now().UTC()
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	o := &domain.Order{
		ID:              uuid.NewString(),
		BuyerEmail:      "ada@example.com",
		Subtotal:        subtotal,
		ShippingAddress: domain.Address{Name: "Ada", Line1: "1 Row", City: "London", PostalCode: "N1", Country: "GB"},
		DeliveryMethod:  domain.DeliveryMethod{ID: 1, Name: "Standard", Price: dec("5")},
		Items:           items,
		PaymentIntentID: intentID,
		DiscountCode:    discountCode,
		Status:          domain.OrderStatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := f.store.WithinTx(context.Background(), func(tx *store.Tx) error {
		return tx.InsertOrder(context.Background(), o)
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) usage(t *testing.T, code string) int {
	t.Helper()
	d, err := f.store.GetDiscountByCode(context.Background(), code)
	require.NoError(t, err)
	return d.UsageCount
}

func (f *fixture) status(t *testing.T, id string) domain.OrderStatus {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestHandleSucceeded_AppliesSideEffectsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t, "pi_1", "LAMPS20", domain.OrderItem{ProductID: 101, ProductName: "Desk Lamp", Price: dec("40"), Quantity: 2})

	found, err := f.rec.HandleSucceeded(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.OrderStatusPaymentReceived, f.status(t, o.ID))
	assert.Equal(t, 3, f.stock(t, 101))
	assert.Equal(t, 1, f.usage(t, "LAMPS20"))

	// duplicate delivery
	found, err = f.rec.HandleSucceeded(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, f.stock(t, 101))
	assert.Equal(t, 1, f.usage(t, "LAMPS20"))

	stored, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, enqueued{notify.KindOrderConfirmation, o.ID}, f.notifier.jobs[0])
}

func TestHandleSucceeded_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "pi_1", "LAMPS20", domain.OrderItem{ProductID: 101, Price: dec("40"), Quantity: 1})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := f.rec.HandleSucceeded(context.Background(), "pi_1")
			if err == nil && !found {
				err = errors.New("order not found")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, f.stock(t, 101))
	assert.Equal(t, 1, f.usage(t, "LAMPS20"))
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandleSucceeded_UnknownIntent(t *testing.T) {
	f := newFixture(t)

	found, err := f.rec.HandleSucceeded(context.Background(), "pi_unknown")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, f.notifier.count())

	_, err = f.rec.HandleSucceeded(context.Background(), "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestHandleSucceeded_OversellRollsBack(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "pi_1", "LAMPS20",
		domain.OrderItem{ProductID: 101, Price: dec("40"), Quantity: 1},
		domain.OrderItem{ProductID: 102, ProductName: "Cable", Price: dec("5"), Quantity: 3},
	)

	found, err := f.rec.HandleSucceeded(context.Background(), "pi_1")
	require.ErrorIs(t, err, domain.ErrOversell)
	assert.False(t, found)
	assert.Equal(t, domain.KindInvalidOperation, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Cable")

	assert.Equal(t, domain.OrderStatusPending, f.status(t, o.ID))
	assert.Equal(t, 5, f.stock(t, 101), "earlier lines are rolled back too")
	assert.Equal(t, 1, f.stock(t, 102))
	assert.Equal(t, 0, f.usage(t, "LAMPS20"))
	assert.Zero(t, f.notifier.count())
}

func TestHandleSucceeded_SkipsDeletedProducts(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "pi_1", "",
		domain.OrderItem{ProductID: 999, ProductName: "Discontinued", Price: dec("10"), Quantity: 1},
		domain.OrderItem{ProductID: 101, Price: dec("50"), Quantity: 1},
	)

	found, err := f.rec.HandleSucceeded(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.OrderStatusPaymentReceived, f.status(t, o.ID))
	assert.Equal(t, 4, f.stock(t, 101))
	assert.Equal(t, 0, f.usage(t, "LAMPS20"))
}

func TestHandleSucceeded_MissingDiscountIsNotFatal(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "pi_1", "RETIRED", domain.OrderItem{ProductID: 101, Price: dec("50"), Quantity: 1})

	found, err := f.rec.HandleSucceeded(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.OrderStatusPaymentReceived, f.status(t, o.ID))
}

func TestHandleFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t, "pi_1", "LAMPS20", domain.OrderItem{ProductID: 101, Price: dec("40"), Quantity: 2})

	found, err := f.rec.HandleFailed(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.OrderStatusPaymentFailed, f.status(t, o.ID))
	assert.Equal(t, 5, f.stock(t, 101))
	assert.Equal(t, 0, f.usage(t, "LAMPS20"))
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, notify.KindPaymentFailed, f.notifier.jobs[0].kind)

	// a late success never resurrects a failed order
	found, err = f.rec.HandleSucceeded(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.OrderStatusPaymentFailed, f.status(t, o.ID))
	assert.Equal(t, 5, f.stock(t, 101))
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandleSucceeded_NotificationFailureKeepsResult(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("kafka unavailable")
	o := f.placeOrder(t, "pi_1", "", domain.OrderItem{ProductID: 101, Price: dec("50"), Quantity: 1})

	found, err := f.rec.HandleSucceeded(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.OrderStatusPaymentReceived, f.status(t, o.ID))
}

// cancelAfterCommit cancels the caller's context as soon as the transaction
// returns, like a request deadline expiring right after the commit.
type cancelAfterCommit struct {
	TxRunner
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithinTx(ctx context.Context, fn func(tx *store.Tx) error) error {
	defer c.cancel()
	return c.TxRunner.WithinTx(ctx, fn)
}

func TestHandleSucceeded_NotificationOutlivesRequest(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "pi_1", "", domain.OrderItem{ProductID: 101, Price: dec("50"), Quantity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	rec := NewReconciler(cancelAfterCommit{TxRunner: f.store, cancel: cancel}, f.notifier, zap.NewNop())

	found, err := rec.HandleSucceeded(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, found)
	require.Error(t, ctx.Err())
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, enqueued{notify.KindOrderConfirmation, o.ID}, f.notifier.jobs[0])
	assert.Equal(t, []bool{false}, f.notifier.cancelled)
}
