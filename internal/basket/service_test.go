package basket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/basket/baskettest"
	"github.com/fjod/storefront/internal/basket/cache"
	"github.com/fjod/storefront/internal/catalog/catalogtest"
	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCache struct {
	m       sync.RWMutex
	baskets map[string]*domain.Basket
	deletes []string
	err     error
}

func newMockCache() *mockCache {
	return &mockCache{baskets: make(map[string]*domain.Basket)}
}

func (m *mockCache) Get(_ context.Context, id string) (*domain.Basket, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.baskets[id]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return b, nil
}

func (m *mockCache) Set(_ context.Context, id string, b *domain.Basket) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.baskets[id] = b
	return m.err
}

func (m *mockCache) Delete(_ context.Context, id string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.baskets, id)
	m.deletes = append(m.deletes, id)
	return m.err
}

func (m *mockCache) cached(id string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.baskets[id]
	return ok
}

func (m *mockCache) deleted(id string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	for _, d := range m.deletes {
		if d == id {
			return true
		}
	}
	return false
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	sut     *Service
	repo    *baskettest.MemoryRepository
	cache   *mockCache
	catalog *catalogtest.MemoryCatalog
}

func setup(t *testing.T) fixture {
	t.Helper()
	cat := catalogtest.NewMemoryCatalog()
	cat.AddProduct(domain.Product{ID: 1, Name: "Keyboard", Price: dec("89.99"), Stock: 10})
	cat.AddProduct(domain.Product{ID: 2, Name: "Mouse", Price: dec("39.50"), Stock: 3})

	repo := baskettest.NewMemoryRepository()
	c := newMockCache()
	return fixture{
		sut:     NewService(repo, c, cat, zap.NewNop()),
		repo:    repo,
		cache:   c,
		catalog: cat,
	}
}

func seed(t *testing.T, f fixture, b *domain.Basket) {
	t.Helper()
	require.NoError(t, f.repo.SaveBasket(context.Background(), b))
}

func TestGet_ReadThrough(t *testing.T) {
	f := setup(t)
	seed(t, f, &domain.Basket{ID: "b1", Items: []domain.BasketItem{{ProductID: 1, Quantity: 5}}})

	ret, err := f.sut.Get(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, ret.Items, 1)
	assert.Equal(t, 5, ret.Items[0].Quantity)

	require.Eventually(t, func() bool {
		return f.cache.cached("b1")
	}, 100*time.Millisecond, 10*time.Millisecond, "basket was not set in cache")
}

func TestGet_CacheHit(t *testing.T) {
	f := setup(t)
	f.cache.baskets["b1"] = &domain.Basket{ID: "b1", Items: []domain.BasketItem{{ProductID: 2, Quantity: 3}}}

	ret, err := f.sut.Get(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, ret.Items, 1)
	assert.Equal(t, int64(2), ret.Items[0].ProductID)
	assert.False(t, f.repo.Exists("b1"), "repo should not be consulted")
}

func TestGet_ReturnsIndependentCopies(t *testing.T) {
	f := setup(t)
	discountID, deliveryID := int64(3), int64(1)
	seed(t, f, &domain.Basket{
		ID:               "b1",
		Items:            []domain.BasketItem{{ProductID: 1, Quantity: 5}},
		DiscountID:       &discountID,
		DeliveryMethodID: &deliveryID,
	})

	first, err := f.sut.Get(context.Background(), "b1")
	require.NoError(t, err)
	*first.DiscountID = 99
	*first.DeliveryMethodID = 7

	// the flight result was also written to the cache
	cached := f.cache.baskets["b1"]
	require.NotNil(t, cached)
	assert.Equal(t, int64(3), *cached.DiscountID)
	assert.Equal(t, int64(1), *cached.DeliveryMethodID)

	second, err := f.sut.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *second.DiscountID)
	assert.Equal(t, int64(1), *second.DeliveryMethodID)
}

func TestGet_NotFound(t *testing.T) {
	f := setup(t)

	_, err := f.sut.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
}

func TestGet_RepoError(t *testing.T) {
	f := setup(t)
	f.repo.FailWith(errors.New("database error"))

	ret, err := f.sut.Get(context.Background(), "b1")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
}

func TestAddItem_CreatesBasketWithSnapshot(t *testing.T) {
	f := setup(t)

	b, err := f.sut.AddItem(context.Background(), "guest-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "Keyboard", b.Items[0].ProductName)
	assert.True(t, b.Items[0].Price.Equal(dec("89.99")))
	assert.True(t, f.repo.Exists("guest-1"))
	assert.True(t, f.cache.deleted("guest-1"))
}

func TestAddItem_AccumulatesQuantity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sut.AddItem(ctx, "b1", 1, 2)
	require.NoError(t, err)
	b, err := f.sut.AddItem(ctx, "b1", 1, 3)
	require.NoError(t, err)

	require.Len(t, b.Items, 1)
	assert.Equal(t, 5, b.Items[0].Quantity)
}

func TestAddItem_StockGuard(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sut.AddItem(ctx, "b1", 2, 4)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.False(t, f.repo.Exists("b1"))

	// exactly the available quantity is allowed
	b, err := f.sut.AddItem(ctx, "b1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Items[0].Quantity)
}

func TestAddItem_Validation(t *testing.T) {
	f := setup(t)

	_, err := f.sut.AddItem(context.Background(), "b1", 1, 0)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.sut.AddItem(context.Background(), "b1", 404, 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestIncrease(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f, &domain.Basket{ID: "b1", Items: []domain.BasketItem{{ProductID: 2, Quantity: 2}}})

	b, err := f.sut.Increase(ctx, "b1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Items[0].Quantity)

	_, err = f.sut.Increase(ctx, "b1", 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = f.sut.Increase(ctx, "b1", 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = f.sut.Increase(ctx, "nope", 1)
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)
}

func TestDecrease_RemovesLineAtZero(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f, &domain.Basket{ID: "b1", Items: []domain.BasketItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}})

	b, err := f.sut.Decrease(ctx, "b1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Item(1).Quantity)

	b, err = f.sut.Decrease(ctx, "b1", 2)
	require.NoError(t, err)
	assert.Nil(t, b.Item(2))
	assert.Len(t, b.Items, 1)

	stored, err := f.repo.GetBasket(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
}

func TestRemoveItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f, &domain.Basket{ID: "b1", Items: []domain.BasketItem{{ProductID: 1, Quantity: 2}}})

	b, err := f.sut.RemoveItem(ctx, "b1", 1)
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())

	_, err = f.sut.RemoveItem(ctx, "b1", 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f, &domain.Basket{ID: "b1"})

	require.NoError(t, f.sut.Delete(ctx, "b1"))
	assert.False(t, f.repo.Exists("b1"))
	assert.True(t, f.cache.deleted("b1"))

	assert.ErrorIs(t, f.sut.Delete(ctx, "b1"), domain.ErrBasketNotFound)
}

func TestMerge_SumsQuantities(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.catalog.AddProduct(domain.Product{ID: 3, Name: "Hub", Price: dec("45"), Stock: 9})
	seed(t, f, &domain.Basket{ID: "guest", Items: []domain.BasketItem{{ProductID: 1, Quantity: 2}}})
	seed(t, f, &domain.Basket{ID: "user", Items: []domain.BasketItem{{ProductID: 1, Quantity: 3}, {ProductID: 3, Quantity: 1}}})

	b, err := f.sut.Merge(ctx, "guest", "user")
	require.NoError(t, err)

	assert.Equal(t, "user", b.ID)
	require.Len(t, b.Items, 2)
	assert.Equal(t, 5, b.Item(1).Quantity)
	assert.Equal(t, 1, b.Item(3).Quantity)
	assert.False(t, f.repo.Exists("guest"))

	stored, err := f.repo.GetBasket(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Item(1).Quantity)
}

func TestMerge_RekeysGuestBasket(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	discountID := int64(4)
	seed(t, f, &domain.Basket{ID: "guest", DiscountID: &discountID, PaymentIntentID: "pi_1", Items: []domain.BasketItem{{ProductID: 2, Quantity: 1}}})

	b, err := f.sut.Merge(ctx, "guest", "user")
	require.NoError(t, err)

	assert.Equal(t, "user", b.ID)
	assert.Equal(t, "pi_1", b.PaymentIntentID)
	require.NotNil(t, b.DiscountID)
	assert.True(t, f.repo.Exists("user"))
	assert.False(t, f.repo.Exists("guest"))
}

func TestMerge_KeepsUserIntentAndDiscount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	guestDiscount, userDiscount := int64(1), int64(2)
	seed(t, f, &domain.Basket{ID: "guest", DiscountID: &guestDiscount, PaymentIntentID: "pi_guest", Items: []domain.BasketItem{{ProductID: 2, Quantity: 1}}})
	seed(t, f, &domain.Basket{ID: "user", DiscountID: &userDiscount, PaymentIntentID: "pi_user"})

	b, err := f.sut.Merge(ctx, "guest", "user")
	require.NoError(t, err)
	assert.Equal(t, "pi_user", b.PaymentIntentID)
	assert.Equal(t, int64(2), *b.DiscountID)
	assert.Len(t, b.Items, 1)
}

func TestMerge_NoBaskets(t *testing.T) {
	f := setup(t)

	_, err := f.sut.Merge(context.Background(), "guest", "user")
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)

	_, err = f.sut.Merge(context.Background(), "same", "same")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestApplyDiscount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now()
	expired := now.Add(-time.Second)
	maxUsage := 2
	f.catalog.AddDiscount(domain.Discount{ID: 1, Code: "LIVE", Scope: domain.DiscountScopeGlobal, Percentage: dec("10"), StartsAt: now.Add(-time.Hour), Status: domain.DiscountStatusActive})
	f.catalog.AddDiscount(domain.Discount{ID: 2, Code: "OLD", Scope: domain.DiscountScopeGlobal, Percentage: dec("10"), StartsAt: now.Add(-time.Hour), EndsAt: &expired, Status: domain.DiscountStatusActive})
	f.catalog.AddDiscount(domain.Discount{ID: 3, Code: "USEDUP", Scope: domain.DiscountScopeGlobal, Percentage: dec("10"), StartsAt: now.Add(-time.Hour), Status: domain.DiscountStatusActive, UsageCount: 2, MaxUsage: &maxUsage})
	seed(t, f, &domain.Basket{ID: "b1", Items: []domain.BasketItem{{ProductID: 1, Quantity: 1}}})

	b, err := f.sut.ApplyDiscount(ctx, "b1", "LIVE")
	require.NoError(t, err)
	require.NotNil(t, b.DiscountID)
	assert.Equal(t, int64(1), *b.DiscountID)

	_, err = f.sut.ApplyDiscount(ctx, "b1", "OLD")
	assert.ErrorIs(t, err, domain.ErrDiscountUnavailable)
	_, err = f.sut.ApplyDiscount(ctx, "b1", "USEDUP")
	assert.ErrorIs(t, err, domain.ErrDiscountUnavailable)
	_, err = f.sut.ApplyDiscount(ctx, "b1", "NOPE")
	assert.ErrorIs(t, err, domain.ErrDiscountNotFound)

	b, err = f.sut.RemoveDiscount(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, b.DiscountID)
}

func TestMutation_RefreshesSnapshots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed(t, f, &domain.Basket{ID: "b1", Items: []domain.BasketItem{
		{ProductID: 1, ProductName: "Old name", Price: dec("1.00"), Quantity: 1},
		{ProductID: 2, Quantity: 1},
	}})

	b, err := f.sut.Decrease(ctx, "b1", 2)
	require.NoError(t, err)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "Keyboard", b.Items[0].ProductName)
	assert.True(t, b.Items[0].Price.Equal(dec("89.99")))
}
