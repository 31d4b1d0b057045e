package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Category groups products for browsing and reporting
type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CategoryListing is a category with the number of products filed under it.
type CategoryListing struct {
	Category
	ProductCount int `db:"product_count" json:"product_count"`
}

// Product is a stocked catalog entry.
//
// Quantity is the total stock received. SoldQuantity accumulates units sold
// through orders; the sellable figure is AvailableQuantity.
type Product struct {
	ID                int64               `db:"id" json:"id"`
	Name              string              `db:"name" json:"name"`
	CategoryID        int64               `db:"category_id" json:"category"`
	CostPrice         decimal.Decimal     `db:"cost_price" json:"cost_price"`
	SellingPrice      decimal.NullDecimal `db:"selling_price" json:"selling_price"`
	Quantity          int                 `db:"quantity" json:"quantity"`
	SoldQuantity      int                 `db:"sold_quantity" json:"sold_quantity"`
	LowStockThreshold int                 `db:"low_stock_threshold" json:"low_stock_threshold"`
	Description       *string             `db:"description" json:"description"`
	SKU               *string             `db:"sku" json:"sku"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

// AvailableQuantity returns stock on hand, never negative.
func (p *Product) AvailableQuantity() int {
	if avail := p.Quantity - p.SoldQuantity; avail > 0 {
		return avail
	}
	return 0
}

// IsLowStock reports whether available stock is at or below the threshold.
func (p *Product) IsLowStock() bool {
	return p.AvailableQuantity() <= p.LowStockThreshold
}

// TotalValue is the cost value of the available stock.
func (p *Product) TotalValue() decimal.Decimal {
	return p.CostPrice.Mul(decimal.NewFromInt(int64(p.AvailableQuantity())))
}

// TotalSoldValue is the selling value of everything sold so far.
func (p *Product) TotalSoldValue() decimal.Decimal {
	if !p.SellingPrice.Valid {
		return decimal.Zero
	}
	return p.SellingPrice.Decimal.Mul(decimal.NewFromInt(int64(p.SoldQuantity)))
}

func (p *Product) ProfitPerUnit() decimal.Decimal {
	if !p.SellingPrice.Valid {
		return decimal.Zero
	}
	return p.SellingPrice.Decimal.Sub(p.CostPrice)
}

// ProfitMargin is the per-unit profit as a percentage of the selling price.
func (p *Product) ProfitMargin() decimal.Decimal {
	if !p.SellingPrice.Valid || !p.SellingPrice.Decimal.IsPositive() {
		return decimal.Zero
	}
	return p.ProfitPerUnit().Div(p.SellingPrice.Decimal).Mul(hundred).Round(2)
}

// ProductListing is a product joined with its category name.
type ProductListing struct {
	Product
	CategoryName string `db:"category_name" json:"category_name"`
}

// Order is one completed sale. TotalAmount and TotalProfit cache the sums
// over Items and are only ever set by RecomputeTotals.
type Order struct {
	ID          int64           `db:"id" json:"id"`
	OrderDate   time.Time       `db:"order_date" json:"order_date"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalProfit decimal.Decimal `db:"total_profit" json:"total_profit"`
	Notes       *string         `db:"notes" json:"notes"`
	Items       []OrderItem     `db:"-" json:"order_items,omitempty"`
}

// OrderItem is a line of an order. UnitPrice and UnitCost are snapshots of
// the product prices taken when the order was placed.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unit_cost"`
}

func (i *OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i *OrderItem) Profit() decimal.Decimal {
	return i.UnitPrice.Sub(i.UnitCost).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SumItems totals subtotal and profit over items.
func SumItems(items []OrderItem) (amount, profit decimal.Decimal) {
	amount, profit = decimal.Zero, decimal.Zero
	for i := range items {
		amount = amount.Add(items[i].Subtotal())
		profit = profit.Add(items[i].Profit())
	}
	return amount, profit
}

// RecomputeTotals replaces the cached totals with the sums over Items.
func (o *Order) RecomputeTotals() {
	o.TotalAmount, o.TotalProfit = SumItems(o.Items)
}

// OrderItemDetail is an order item joined with its product name.
type OrderItemDetail struct {
	OrderItem
	ProductName string `db:"product_name" json:"product_name"`
}

// OrderSummary is an order header with its line count, used by list views.
type OrderSummary struct {
	Order
	ItemsCount int `db:"items_count" json:"items_count"`
}

// SaleLine is a line item joined with its order date and catalog names.
type SaleLine struct {
	OrderID      int64           `db:"order_id"`
	OrderDate    time.Time       `db:"order_date"`
	ItemID       int64           `db:"item_id"`
	ProductID    int64           `db:"product_id"`
	ProductName  string          `db:"product_name"`
	CategoryID   int64           `db:"category_id"`
	CategoryName string          `db:"category_name"`
	Quantity     int             `db:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price"`
	UnitCost     decimal.Decimal `db:"unit_cost"`
}

func (l *SaleLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l *SaleLine) Profit() decimal.Decimal {
	return l.UnitPrice.Sub(l.UnitCost).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// StockAlert records a product dropping into low stock
type StockAlert struct {
	ID                int64     `db:"id" json:"id"`
	EventID           string    `db:"event_id" json:"event_id"`
	ProductID         int64     `db:"product_id" json:"product_id"`
	ProductName       string    `db:"product_name" json:"product_name"`
	AvailableQuantity int       `db:"available_quantity" json:"available_quantity"`
	Threshold         int       `db:"threshold" json:"threshold"`
	OrderID           int64     `db:"order_id" json:"order_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
