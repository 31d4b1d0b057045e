package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.NewStore("sqlite", filepath.Join(t.TempDir(), "pos.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.ApplyMigrations(context.Background())
	require.NoError(t, err)
	return s
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	t        *testing.T
	store    *store.Store
	category *models.Category
	seq      int
}

func newFixture(t *testing.T) *fixture {
	s := newTestStore(t)
	c := &models.Category{Name: "General"}
	require.NoError(t, s.CreateCategory(context.Background(), c))
	return &fixture{t: t, store: s, category: c}
}

// product creates a product priced 10 with cost 6
func (f *fixture) product(quantity, threshold int) *models.Product {
	f.t.Helper()
	f.seq++
	p := &models.Product{
		Name:              fmt.Sprintf("Product %03d", f.seq),
		CategoryID:        f.category.ID,
		CostPrice:         dec("6"),
		SellingPrice:      decimal.NewNullDecimal(dec("10")),
		Quantity:          quantity,
		LowStockThreshold: threshold,
	}
	require.NoError(f.t, f.store.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) available(id int64) int {
	f.t.Helper()
	p, err := f.store.GetProductByID(context.Background(), id)
	require.NoError(f.t, err)
	return p.AvailableQuantity()
}

func (f *fixture) orderCount() int {
	f.t.Helper()
	n, err := f.store.CountOrders(context.Background(), store.TimeRange{})
	require.NoError(f.t, err)
	return n
}

type fakePublisher struct {
	mu       sync.Mutex
	placed   []int64
	deleted  []int64
	lowStock []int64
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, order.ID)
	return nil
}

func (p *fakePublisher) PublishOrderDeleted(_ context.Context, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, order.ID)
	return nil
}

func (p *fakePublisher) PublishProductLowStock(_ context.Context, product *models.Product, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowStock = append(p.lowStock, product.ID)
	return nil
}

type fakeIdempotency struct {
	mu     sync.Mutex
	keys   map[string]int64
	locked map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]int64{}, locked: map[string]bool{}}
}

func (f *fakeIdempotency) GetIdempotencyKey(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.keys[key]
	return id, ok, nil
}

func (f *fakeIdempotency) SetIdempotencyKey(_ context.Context, key string, orderID int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = orderID
	return nil
}

func (f *fakeIdempotency) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[key] {
		return "", nil
	}
	f.locked[key] = true
	return "token", nil
}

func (f *fakeIdempotency) ReleaseLock(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, key)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]interface{}
	invalidated int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]interface{}{}}
}

func (c *fakeCache) GetSummary(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	switch d := dest.(type) {
	case *SalesSummary:
		*d = *v.(*SalesSummary)
	case *CategorySummary:
		*d = *v.(*CategorySummary)
	}
	return true, nil
}

func (c *fakeCache) SetSummary(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeCache) InvalidateSummaries(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]interface{}{}
	c.invalidated++
	return nil
}
