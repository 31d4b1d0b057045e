package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)

	r := ReportRange("", "", now, time.UTC, 30)
	assert.Equal(t, "2024-02-14", r.StartDate())
	assert.Equal(t, "2024-03-15", r.EndDate())

	r = ReportRange("2024-01-01", "garbage", now, time.UTC, 30)
	assert.Equal(t, "2024-01-01", r.StartDate())
	assert.Equal(t, "2024-03-15", r.EndDate())

	tr := r.TimeRange()
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), *tr.To)
}

func TestReportRangeUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	// 20:00 UTC is already the next day at UTC+7.
	now := time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)

	today := Today(now, loc)
	assert.Equal(t, "2024-03-16", today.StartDate())
	assert.Equal(t, time.Date(2024, 3, 15, 17, 0, 0, 0, time.UTC), today.TimeRange().From.UTC())
}

func TestOrderFilterIgnoresMalformedDates(t *testing.T) {
	r := OrderFilter("2024-13-40", "", time.UTC)
	assert.Nil(t, r.From)
	assert.Nil(t, r.To)

	r = OrderFilter("2024-03-01", "2024-03-02", time.UTC)
	require.NotNil(t, r.From)
	require.NotNil(t, r.To)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), *r.To)
}

func TestProfitMargin(t *testing.T) {
	assert.True(t, ProfitMargin(dec("50"), dec("20")).Equal(dec("40")))
	assert.True(t, ProfitMargin(decimal.Zero, dec("5")).IsZero())
	assert.True(t, ProfitMargin(dec("3"), dec("1")).Equal(dec("33.33")))
}

type analyticsFixture struct {
	*fixture
	orders    *OrderService
	analytics *AnalyticsService
	cache     *fakeCache
}

func newAnalyticsFixture(t *testing.T) *analyticsFixture {
	f := newFixture(t)
	cache := newFakeCache()
	return &analyticsFixture{
		fixture:   f,
		orders:    NewOrderService(f.store, nil, nil, cache, OrderOptions{}),
		analytics: NewAnalyticsService(f.store, cache, AnalyticsOptions{Location: time.UTC, CacheTTL: time.Minute}),
		cache:     cache,
	}
}

func (a *analyticsFixture) place(lines ...BasketLine) {
	a.t.Helper()
	_, err := a.orders.PlaceOrder(context.Background(), basket(lines...))
	require.NoError(a.t, err)
}

func TestSalesSummary(t *testing.T) {
	a := newAnalyticsFixture(t)
	ctx := context.Background()
	cola := a.product(50, 0)
	chips := a.product(50, 0)
	gum := a.product(50, 0)

	a.place(BasketLine{ProductID: cola.ID, Quantity: 3}, BasketLine{ProductID: chips.ID, Quantity: 1})
	a.place(BasketLine{ProductID: chips.ID, Quantity: 2}, BasketLine{ProductID: gum.ID, Quantity: 1})

	r := a.analytics.ReportRange("", "")
	summary, err := a.analytics.SalesSummary(ctx, r, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Summary.TotalOrders)
	assert.True(t, summary.Summary.TotalRevenue.Equal(dec("70")))
	assert.True(t, summary.Summary.TotalProfit.Equal(dec("28")))
	assert.True(t, summary.Summary.ProfitMargin.Equal(dec("40")))

	require.Len(t, summary.DailySales, 1)
	assert.Equal(t, r.EndDate(), summary.DailySales[0].Date)
	assert.True(t, summary.DailyProfits[0].Profit.Equal(dec("28")))

	// cola and chips tie on 3 units; the lower product id wins.
	require.Len(t, summary.TopProducts, 3)
	assert.Equal(t, cola.ID, summary.TopProducts[0].ProductID)
	assert.Equal(t, chips.ID, summary.TopProducts[1].ProductID)
	assert.True(t, summary.TopProducts[1].TotalRevenue.Equal(dec("30")))

	limited, err := a.analytics.SalesSummary(ctx, r, 1)
	require.NoError(t, err)
	assert.Len(t, limited.TopProducts, 1)
}

func TestSalesSummaryEmptyRange(t *testing.T) {
	a := newAnalyticsFixture(t)
	p := a.product(5, 0)
	a.place(BasketLine{ProductID: p.ID, Quantity: 1})

	summary, err := a.analytics.SalesSummary(context.Background(), a.analytics.ReportRange("2001-01-01", "2001-01-31"), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Summary.TotalOrders)
	assert.True(t, summary.Summary.ProfitMargin.IsZero())
	assert.Empty(t, summary.DailySales)
	assert.Empty(t, summary.TopProducts)
	assert.Equal(t, "2001-01-01", summary.Period.StartDate)
}

func TestSalesSummaryCacheInvalidatedByOrders(t *testing.T) {
	a := newAnalyticsFixture(t)
	ctx := context.Background()
	p := a.product(10, 0)
	a.place(BasketLine{ProductID: p.ID, Quantity: 1})

	r := a.analytics.ReportRange("", "")
	first, err := a.analytics.SalesSummary(ctx, r, 0)
	require.NoError(t, err)
	assert.Len(t, a.cache.entries, 1)

	cached, err := a.analytics.SalesSummary(ctx, r, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Summary.TotalOrders, cached.Summary.TotalOrders)

	a.place(BasketLine{ProductID: p.ID, Quantity: 1})
	assert.Empty(t, a.cache.entries)

	fresh, err := a.analytics.SalesSummary(ctx, r, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Summary.TotalOrders)
}

func TestCategorySummary(t *testing.T) {
	a := newAnalyticsFixture(t)
	ctx := context.Background()
	general := a.product(50, 0)

	c := a.category

	drinks, err := NewCatalogService(a.store, 10).CreateCategory(ctx, CategoryInput{Name: "Drinks"})
	require.NoError(t, err)
	a.category = drinks
	juice := a.product(50, 0)
	water := a.product(50, 0)

	a.place(BasketLine{ProductID: general.ID, Quantity: 2}, BasketLine{ProductID: juice.ID, Quantity: 1})
	a.place(BasketLine{ProductID: water.ID, Quantity: 4})

	summary, err := a.analytics.CategorySummary(ctx, a.analytics.ReportRange("", ""))
	require.NoError(t, err)

	assert.Equal(t, 7, summary.TotalSold)
	require.Len(t, summary.CategorySales, 2)
	assert.Equal(t, "Drinks", summary.CategorySales[0].CategoryName)
	assert.Equal(t, 5, summary.CategorySales[0].TotalQuantity)
	assert.Equal(t, 2, summary.CategorySales[0].ProductsSold)
	assert.True(t, summary.CategorySales[0].TotalRevenue.Equal(dec("50")))
	assert.True(t, summary.CategorySales[0].TotalProfit.Equal(dec("20")))
	assert.Equal(t, c.ID, summary.CategorySales[1].CategoryID)
}

func TestCategorySummaryTiesByCategoryID(t *testing.T) {
	a := newAnalyticsFixture(t)
	ctx := context.Background()
	general := a.product(50, 0)

	snacks, err := NewCatalogService(a.store, 10).CreateCategory(ctx, CategoryInput{Name: "Snacks"})
	require.NoError(t, err)
	a.category = snacks
	chips := a.product(50, 0)

	// Snacks sells first; equal quantities still rank the older category first.
	a.place(BasketLine{ProductID: chips.ID, Quantity: 3})
	a.place(BasketLine{ProductID: general.ID, Quantity: 3})

	for i := 0; i < 5; i++ {
		require.NoError(t, a.cache.InvalidateSummaries(ctx))
		summary, err := a.analytics.CategorySummary(ctx, a.analytics.ReportRange("", ""))
		require.NoError(t, err)
		require.Len(t, summary.CategorySales, 2)
		assert.Equal(t, general.CategoryID, summary.CategorySales[0].CategoryID)
		assert.Equal(t, snacks.ID, summary.CategorySales[1].CategoryID)
		assert.Equal(t, 3, summary.CategorySales[1].TotalQuantity)
	}
}

func TestTodayOrders(t *testing.T) {
	a := newAnalyticsFixture(t)
	p := a.product(10, 0)
	a.place(BasketLine{ProductID: p.ID, Quantity: 2})
	a.place(BasketLine{ProductID: p.ID, Quantity: 1})

	today, err := a.analytics.TodayOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), today.Date)
	assert.Equal(t, 2, today.TotalOrders)
	assert.True(t, today.TotalRevenue.Equal(dec("30")))
	assert.True(t, today.TotalProfit.Equal(dec("12")))
	require.Len(t, today.Orders, 2)
	assert.Greater(t, today.Orders[0].ID, today.Orders[1].ID)
}

func TestExportCSV(t *testing.T) {
	a := newAnalyticsFixture(t)
	p := a.product(10, 0)
	q := a.product(10, 0)
	a.place(BasketLine{ProductID: p.ID, Quantity: 2})
	a.place(BasketLine{ProductID: q.ID, Quantity: 1})

	r := a.analytics.ReportRange("", "")
	var buf bytes.Buffer
	n, err := a.analytics.ExportCSV(context.Background(), r, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])

	newest := rows[1]
	assert.Equal(t, q.Name, newest[2])
	assert.Equal(t, "General", newest[3])
	assert.Equal(t, []string{"1", "10.00", "6.00", "10.00", "4.00"}, newest[4:])
	_, err = time.Parse("2006-01-02 15:04", newest[1])
	assert.NoError(t, err)

	assert.Equal(t, "sales_report_"+r.StartDate()+"_to_"+r.EndDate()+".csv", CSVFilename(r))
}
