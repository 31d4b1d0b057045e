package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newOrderService(f *fixture) *OrderService {
	return NewOrderService(f.store, nil, nil, nil, OrderOptions{MaxAttempts: 3})
}

func basket(lines ...BasketLine) *PlaceOrderRequest {
	return &PlaceOrderRequest{Items: lines}
}

func TestPlaceOrderSellsWholeStock(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 2)

	res, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 5}))
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	order := res.Detail.Order
	assert.True(t, order.TotalAmount.Equal(dec("50")), order.TotalAmount.String())
	assert.True(t, order.TotalProfit.Equal(dec("20")), order.TotalProfit.String())
	require.Len(t, res.Detail.Items, 1)
	assert.Equal(t, p.Name, res.Detail.Items[0].ProductName)
	assert.Equal(t, 0, f.available(p.ID))

	stored, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Order.TotalAmount.Equal(dec("50")))
	assert.Len(t, stored.Items, 1)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 2)

	_, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 5}))
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 1}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, 0, stockErr.Available)
	assert.Equal(t, 1, stockErr.Requested)

	assert.Equal(t, 1, f.orderCount())
}

func TestPlaceOrderShapeErrors(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 2)

	tests := []struct {
		name string
		req  *PlaceOrderRequest
		want error
	}{
		{"empty basket", basket(), ErrEmptyBasket},
		{"zero quantity", basket(BasketLine{ProductID: p.ID, Quantity: 0}), ErrInvalidQuantity},
		{"negative quantity", basket(BasketLine{ProductID: p.ID, Quantity: -2}), ErrInvalidQuantity},
		{"duplicate product", basket(
			BasketLine{ProductID: p.ID, Quantity: 1},
			BasketLine{ProductID: p.ID, Quantity: 2},
		), ErrDuplicateProduct},
		{"unknown product", basket(BasketLine{ProductID: 9999, Quantity: 1}), ErrProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	assert.Equal(t, 0, f.orderCount())
	assert.Equal(t, 5, f.available(p.ID))
}

func TestPlaceOrderReportsEveryViolation(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	stocked := f.product(1, 0)

	unpriced := &models.Product{Name: "Unpriced", CategoryID: f.category.ID, CostPrice: dec("2"), Quantity: 10}
	require.NoError(t, f.store.CreateProduct(context.Background(), unpriced))

	_, err := svc.PlaceOrder(context.Background(), basket(
		BasketLine{ProductID: stocked.ID, Quantity: 3},
		BasketLine{ProductID: unpriced.ID, Quantity: 1},
		BasketLine{ProductID: 4242, Quantity: 1},
	))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.ErrorIs(t, err, ErrMissingPrice)
	assert.ErrorIs(t, err, ErrProductNotFound)

	fields := verr.Fields()
	assert.Contains(t, fields, "order_items[0].quantity")
	assert.Contains(t, fields, "order_items[1].product")
	assert.Contains(t, fields, "order_items[2].product")
}

func TestPlaceOrderReportsStockProblemsBesideMalformedLines(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 0)
	scarce := f.product(1, 0)

	_, err := svc.PlaceOrder(context.Background(), basket(
		BasketLine{ProductID: p.ID, Quantity: 0},
		BasketLine{ProductID: 9999, Quantity: 1},
		BasketLine{ProductID: scarce.ID, Quantity: 3},
	))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 3)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	fields := verr.Fields()
	assert.Len(t, fields["order_items[0].quantity"], 1)
	assert.Contains(t, fields, "order_items[1].product")
	assert.Contains(t, fields, "order_items[2].quantity")
	assert.Equal(t, 0, f.orderCount())
}

func TestPlaceOrderDuplicateLineNotCheckedTwice(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(1, 0)

	_, err := svc.PlaceOrder(context.Background(), basket(
		BasketLine{ProductID: p.ID, Quantity: 1},
		BasketLine{ProductID: p.ID, Quantity: 5},
	))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "order_items[1].product", verr.Violations[0].Field)
	assert.ErrorIs(t, err, ErrDuplicateProduct)
}

func TestPlaceOrderRetriesSerializationFailures(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 0)

	attempts := 0
	svc.place = func(ctx context.Context, req *PlaceOrderRequest) (*OrderDetail, []models.Product, error) {
		attempts++
		if attempts == 1 {
			return nil, nil, fmt.Errorf("lock rows: %w", store.ErrSerialization)
		}
		return svc.placeOnce(ctx, req)
	}

	res, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, res.Detail.Order.TotalAmount.Equal(dec("20")))
	assert.Equal(t, 3, f.available(p.ID))
	assert.Equal(t, 1, f.orderCount())
}

func TestPlaceOrderGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 0)

	attempts := 0
	svc.place = func(context.Context, *PlaceOrderRequest) (*OrderDetail, []models.Product, error) {
		attempts++
		return nil, nil, fmt.Errorf("commit: %w", store.ErrSerialization)
	}

	_, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 2}))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 5, f.available(p.ID))
	assert.Equal(t, 0, f.orderCount())
}

func TestPlaceOrderDoesNotRetryOtherFailures(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 0)

	attempts := 0
	svc.place = func(context.Context, *PlaceOrderRequest) (*OrderDetail, []models.Product, error) {
		attempts++
		return nil, nil, errors.New("disk full")
	}

	_, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 2}))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, attempts)
}

func TestPlaceOrderIsAtomic(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	plenty := f.product(10, 0)
	scarce := f.product(1, 0)

	_, err := svc.PlaceOrder(context.Background(), basket(
		BasketLine{ProductID: plenty.ID, Quantity: 4},
		BasketLine{ProductID: scarce.ID, Quantity: 2},
	))
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 10, f.available(plenty.ID))
	assert.Equal(t, 1, f.available(scarce.ID))
	assert.Equal(t, 0, f.orderCount())
}

func TestPlaceOrderSnapshotsPrices(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(10, 0)

	res, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 2}))
	require.NoError(t, err)

	p.SellingPrice = decimal.NewNullDecimal(dec("99"))
	p.CostPrice = dec("50")
	require.NoError(t, f.store.UpdateProduct(context.Background(), p))

	stored, err := svc.GetOrder(context.Background(), res.Detail.Order.ID)
	require.NoError(t, err)
	item := stored.Items[0]
	assert.True(t, item.UnitPrice.Equal(dec("10")))
	assert.True(t, item.UnitCost.Equal(dec("6")))
	assert.True(t, item.Subtotal().Equal(dec("20")))
	assert.True(t, item.Profit().Equal(dec("8")))
	assert.True(t, stored.Order.TotalAmount.Equal(dec("20")))
}

func TestConcurrentPlacementsNeverOversell(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	p := f.product(5, 0)

	const buyers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 1}))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrConflict), err.Error())
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, successes)
	assert.Equal(t, 0, f.available(p.ID))
	assert.Equal(t, 5, f.orderCount())
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	idem := newFakeIdempotency()
	svc := NewOrderService(f.store, nil, idem, nil, OrderOptions{})
	p := f.product(10, 0)

	req := &PlaceOrderRequest{
		Items:          []BasketLine{{ProductID: p.ID, Quantity: 2}},
		IdempotencyKey: "checkout-1",
	}

	first, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Detail.Order.ID, second.Detail.Order.ID)
	assert.Equal(t, 1, f.orderCount())
	assert.Equal(t, 8, f.available(p.ID))
	assert.Empty(t, idem.locked)
}

func TestPlaceOrderRejectsInFlightDuplicate(t *testing.T) {
	f := newFixture(t)
	idem := newFakeIdempotency()
	idem.locked["order-placement:checkout-2"] = true
	svc := NewOrderService(f.store, nil, idem, nil, OrderOptions{})
	p := f.product(10, 0)

	_, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Items:          []BasketLine{{ProductID: p.ID, Quantity: 1}},
		IdempotencyKey: "checkout-2",
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, f.orderCount())
}

func TestPlaceOrderPublishesEvents(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	cache := newFakeCache()
	svc := NewOrderService(f.store, pub, nil, cache, OrderOptions{})
	crossing := f.product(10, 3)
	alreadyLow := f.product(2, 5)
	healthy := f.product(100, 3)

	res, err := svc.PlaceOrder(context.Background(), basket(
		BasketLine{ProductID: crossing.ID, Quantity: 7},
		BasketLine{ProductID: alreadyLow.ID, Quantity: 1},
		BasketLine{ProductID: healthy.ID, Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, []int64{res.Detail.Order.ID}, pub.placed)
	assert.Equal(t, []int64{crossing.ID}, pub.lowStock)
	assert.Equal(t, 1, cache.invalidated)
}

func TestDeleteOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	svc := NewOrderService(f.store, pub, nil, nil, OrderOptions{})
	p := f.product(10, 0)

	res, err := svc.PlaceOrder(context.Background(), basket(BasketLine{ProductID: p.ID, Quantity: 4}))
	require.NoError(t, err)
	require.Equal(t, 6, f.available(p.ID))

	id := res.Detail.Order.ID
	require.NoError(t, svc.DeleteOrder(context.Background(), id))
	assert.Equal(t, 10, f.available(p.ID))
	assert.Equal(t, []int64{id}, pub.deleted)

	_, err = svc.GetOrder(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.DeleteOrder(context.Background(), id), ErrNotFound)
}

func TestListOrdersCountsItems(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	a := f.product(10, 0)
	b := f.product(10, 0)

	_, err := svc.PlaceOrder(context.Background(), basket(
		BasketLine{ProductID: a.ID, Quantity: 1},
		BasketLine{ProductID: b.ID, Quantity: 1},
	))
	require.NoError(t, err)

	orders, err := svc.ListOrders(context.Background(), OrderFilter("", "", nil))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 2, orders[0].ItemsCount)
}

// Random baskets never push sold quantity past stock, and every committed
// order's totals equal the sums over its items.
func TestPlacementProperties(t *testing.T) {
	f := newFixture(t)
	svc := newOrderService(f)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		stock := rapid.SliceOfN(rapid.IntRange(0, 6), 1, 4).Draw(rt, "stock")
		products := make([]*models.Product, len(stock))
		for i, q := range stock {
			products[i] = f.product(q, 0)
		}

		orders := rapid.IntRange(1, 6).Draw(rt, "orders")
		for n := 0; n < orders; n++ {
			picks := rapid.SliceOfNDistinct(rapid.IntRange(0, len(products)-1), 1, len(products),
				rapid.ID[int]).Draw(rt, "picks")
			req := &PlaceOrderRequest{}
			for _, idx := range picks {
				req.Items = append(req.Items, BasketLine{
					ProductID: products[idx].ID,
					Quantity:  rapid.IntRange(1, 4).Draw(rt, "qty"),
				})
			}

			res, err := svc.PlaceOrder(ctx, req)
			if err != nil {
				if !errors.Is(err, ErrInsufficientStock) {
					rt.Fatalf("unexpected error: %v", err)
				}
				continue
			}

			stored, err := svc.GetOrder(ctx, res.Detail.Order.ID)
			if err != nil {
				rt.Fatalf("reload order: %v", err)
			}
			amount, profit := models.SumItems(stored.Order.Items)
			if !stored.Order.TotalAmount.Equal(amount) || !stored.Order.TotalProfit.Equal(profit) {
				rt.Fatalf("order %d totals %s/%s, items sum to %s/%s", stored.Order.ID,
					stored.Order.TotalAmount, stored.Order.TotalProfit, amount, profit)
			}
		}

		for i, p := range products {
			got, err := f.store.GetProductByID(ctx, p.ID)
			if err != nil {
				rt.Fatalf("reload product: %v", err)
			}
			if got.SoldQuantity > stock[i] {
				rt.Fatalf("product %d sold %d of %d", p.ID, got.SoldQuantity, stock[i])
			}
		}
	})
}
