package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var hundred = decimal.NewFromInt(100)

// AnalyticsOptions tunes AnalyticsService
type AnalyticsOptions struct {
	Location         *time.Location
	DefaultDays      int
	TopProductsLimit int
	CacheTTL         time.Duration
}

// AnalyticsService answers read-only reporting queries over placed orders
type AnalyticsService struct {
	store  *store.Store
	cache  SummaryCache
	opts   AnalyticsOptions
	now    func() time.Time
	logger *zap.Logger
}

// NewAnalyticsService creates a new analytics service. cache may be nil.
func NewAnalyticsService(store *store.Store, cache SummaryCache, opts AnalyticsOptions) *AnalyticsService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 30
	}
	if opts.TopProductsLimit <= 0 {
		opts.TopProductsLimit = 100
	}
	return &AnalyticsService{
		store:  store,
		cache:  cache,
		opts:   opts,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// ReportRange resolves query dates against the configured location and default period
func (s *AnalyticsService) ReportRange(startDate, endDate string) DateRange {
	return ReportRange(startDate, endDate, s.now(), s.opts.Location, s.opts.DefaultDays)
}

// OrderFilter resolves optional order list dates in the configured location
func (s *AnalyticsService) OrderFilter(startDate, endDate string) store.TimeRange {
	return OrderFilter(startDate, endDate, s.opts.Location)
}

type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type SummaryTotals struct {
	TotalOrders  int             `json:"total_orders"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
}

type DailyRevenue struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

type DailyProfit struct {
	Date   string          `json:"date"`
	Profit decimal.Decimal `json:"profit"`
}

type ProductSales struct {
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	TotalQuantity int             `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
}

// SalesSummary is the payload of the sales summary report
type SalesSummary struct {
	Period       Period         `json:"period"`
	Summary      SummaryTotals  `json:"summary"`
	DailySales   []DailyRevenue `json:"daily_sales"`
	DailyProfits []DailyProfit  `json:"daily_profits"`
	TopProducts  []ProductSales `json:"top_products"`
}

type CategorySales struct {
	CategoryID    int64           `json:"category_id"`
	CategoryName  string          `json:"category_name"`
	TotalQuantity int             `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	ProductsSold  int             `json:"products_sold"`
}

// CategorySummary is the payload of the per-category report
type CategorySummary struct {
	Period        Period          `json:"period"`
	TotalSold     int             `json:"total_sold"`
	CategorySales []CategorySales `json:"category_sales"`
}

// TodayOrders lists the current day's orders with their totals
type TodayOrders struct {
	Date         string                `json:"date"`
	TotalOrders  int                   `json:"total_orders"`
	TotalRevenue decimal.Decimal       `json:"total_revenue"`
	TotalProfit  decimal.Decimal       `json:"total_profit"`
	Orders       []models.OrderSummary `json:"orders"`
}

// ProfitMargin is profit as a percentage of revenue, 0 without revenue
func ProfitMargin(revenue, profit decimal.Decimal) decimal.Decimal {
	if !revenue.IsPositive() {
		return decimal.Zero
	}
	return profit.Div(revenue).Mul(hundred).Round(2)
}

func periodOf(r DateRange) Period {
	return Period{StartDate: r.StartDate(), EndDate: r.EndDate()}
}

// SalesSummary builds the sales report for the range. limit caps the top
// products list; 0 uses the configured default.
func (s *AnalyticsService) SalesSummary(ctx context.Context, r DateRange, limit int) (*SalesSummary, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.SalesSummary")
	defer span.End()

	if limit <= 0 {
		limit = s.opts.TopProductsLimit
	}

	cacheKey := fmt.Sprintf("sales:%s:%s:%d:%s", r.StartDate(), r.EndDate(), limit, s.opts.Location)
	var cached SalesSummary
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var (
		orders []models.OrderSummary
		lines  []models.SaleLine
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = s.store.ListOrders(gctx, r.TimeRange())
		return err
	})
	g.Go(func() error {
		var err error
		lines, err = s.store.ListSaleLines(gctx, r.TimeRange())
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, storeError(err)
	}

	summary := &SalesSummary{
		Period:       periodOf(r),
		Summary:      s.totals(orders),
		DailySales:   []DailyRevenue{},
		DailyProfits: []DailyProfit{},
		TopProducts:  topProducts(lines, limit),
	}

	byDay := map[string]*DailyRevenue{}
	profitByDay := map[string]*DailyProfit{}
	var days []string
	for _, o := range orders {
		day := o.OrderDate.In(s.opts.Location).Format(dateLayout)
		if _, ok := byDay[day]; !ok {
			byDay[day] = &DailyRevenue{Date: day, Revenue: decimal.Zero}
			profitByDay[day] = &DailyProfit{Date: day, Profit: decimal.Zero}
			days = append(days, day)
		}
		byDay[day].Revenue = byDay[day].Revenue.Add(o.TotalAmount)
		profitByDay[day].Profit = profitByDay[day].Profit.Add(o.TotalProfit)
	}
	sort.Strings(days)
	for _, day := range days {
		summary.DailySales = append(summary.DailySales, *byDay[day])
		summary.DailyProfits = append(summary.DailyProfits, *profitByDay[day])
	}

	s.cacheSet(ctx, cacheKey, summary)
	return summary, nil
}

func (s *AnalyticsService) totals(orders []models.OrderSummary) SummaryTotals {
	t := SummaryTotals{TotalOrders: len(orders), TotalRevenue: decimal.Zero, TotalProfit: decimal.Zero}
	for _, o := range orders {
		t.TotalRevenue = t.TotalRevenue.Add(o.TotalAmount)
		t.TotalProfit = t.TotalProfit.Add(o.TotalProfit)
	}
	t.ProfitMargin = ProfitMargin(t.TotalRevenue, t.TotalProfit)
	return t
}

// topProducts ranks products by quantity sold, ties by product id
func topProducts(lines []models.SaleLine, limit int) []ProductSales {
	byProduct := map[int64]*ProductSales{}
	for i := range lines {
		l := &lines[i]
		ps, ok := byProduct[l.ProductID]
		if !ok {
			ps = &ProductSales{ProductID: l.ProductID, ProductName: l.ProductName,
				TotalRevenue: decimal.Zero, TotalProfit: decimal.Zero}
			byProduct[l.ProductID] = ps
		}
		ps.TotalQuantity += l.Quantity
		ps.TotalRevenue = ps.TotalRevenue.Add(l.Subtotal())
		ps.TotalProfit = ps.TotalProfit.Add(l.Profit())
	}

	ranked := make([]ProductSales, 0, len(byProduct))
	for _, ps := range byProduct {
		ranked = append(ranked, *ps)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalQuantity != ranked[j].TotalQuantity {
			return ranked[i].TotalQuantity > ranked[j].TotalQuantity
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// CategorySummary rolls sales up per category, most units sold first
func (s *AnalyticsService) CategorySummary(ctx context.Context, r DateRange) (*CategorySummary, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.CategorySummary")
	defer span.End()

	cacheKey := fmt.Sprintf("categories:%s:%s:%s", r.StartDate(), r.EndDate(), s.opts.Location)
	var cached CategorySummary
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	lines, err := s.store.ListSaleLines(ctx, r.TimeRange())
	if err != nil {
		return nil, storeError(err)
	}

	byCategory := map[int64]*CategorySales{}
	summary := &CategorySummary{Period: periodOf(r), CategorySales: []CategorySales{}}
	for i := range lines {
		l := &lines[i]
		cs, ok := byCategory[l.CategoryID]
		if !ok {
			cs = &CategorySales{CategoryID: l.CategoryID, CategoryName: l.CategoryName,
				TotalRevenue: decimal.Zero, TotalProfit: decimal.Zero}
			byCategory[l.CategoryID] = cs
		}
		cs.TotalQuantity += l.Quantity
		cs.TotalRevenue = cs.TotalRevenue.Add(l.Subtotal())
		cs.TotalProfit = cs.TotalProfit.Add(l.Profit())
		cs.ProductsSold++
		summary.TotalSold += l.Quantity
	}

	for _, cs := range byCategory {
		summary.CategorySales = append(summary.CategorySales, *cs)
	}
	sort.Slice(summary.CategorySales, func(i, j int) bool {
		a, b := summary.CategorySales[i], summary.CategorySales[j]
		if a.TotalQuantity != b.TotalQuantity {
			return a.TotalQuantity > b.TotalQuantity
		}
		return a.CategoryID < b.CategoryID
	})

	s.cacheSet(ctx, cacheKey, summary)
	return summary, nil
}

// TodayOrders returns the orders placed on the current day
func (s *AnalyticsService) TodayOrders(ctx context.Context) (*TodayOrders, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.TodayOrders")
	defer span.End()

	today := Today(s.now(), s.opts.Location)
	orders, err := s.store.ListOrders(ctx, today.TimeRange())
	if err != nil {
		return nil, storeError(err)
	}

	t := s.totals(orders)
	return &TodayOrders{
		Date:         today.StartDate(),
		TotalOrders:  t.TotalOrders,
		TotalRevenue: t.TotalRevenue,
		TotalProfit:  t.TotalProfit,
		Orders:       orders,
	}, nil
}

// CSVHeader is the first row of the sales export
var CSVHeader = []string{
	"Order ID", "Date", "Product", "Category", "Quantity",
	"Unit Price", "Unit Cost", "Subtotal", "Profit",
}

// CSVFilename names the export file for a range
func CSVFilename(r DateRange) string {
	return fmt.Sprintf("sales_report_%s_to_%s.csv", r.StartDate(), r.EndDate())
}

// ExportCSV writes one row per order line in the range, newest order first.
// It returns the number of data rows written.
func (s *AnalyticsService) ExportCSV(ctx context.Context, r DateRange, w io.Writer) (int, error) {
	ctx, span := util.StartSpan(ctx, "AnalyticsService.ExportCSV")
	defer span.End()

	lines, err := s.store.ListSaleLines(ctx, r.TimeRange())
	if err != nil {
		return 0, storeError(err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, err
	}
	for i := range lines {
		l := &lines[i]
		if err := cw.Write([]string{
			strconv.FormatInt(l.OrderID, 10),
			l.OrderDate.In(s.opts.Location).Format("2006-01-02 15:04"),
			l.ProductName,
			l.CategoryName,
			strconv.Itoa(l.Quantity),
			l.UnitPrice.StringFixed(2),
			l.UnitCost.StringFixed(2),
			l.Subtotal().StringFixed(2),
			l.Profit().StringFixed(2),
		}); err != nil {
			return i, err
		}
	}
	cw.Flush()
	return len(lines), cw.Error()
}

func (s *AnalyticsService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.GetSummary(ctx, key, dest)
	if err != nil {
		s.logger.Warn("Summary cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if hit {
		util.SummaryCacheRequests.WithLabelValues("hit").Inc()
	} else {
		util.SummaryCacheRequests.WithLabelValues("miss").Inc()
	}
	return hit
}

func (s *AnalyticsService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSummary(ctx, key, value, s.opts.CacheTTL); err != nil {
		s.logger.Warn("Summary cache write failed", zap.String("key", key), zap.Error(err))
	}
}
