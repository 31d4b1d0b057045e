package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced     = "ORDER_PLACED"
	EventTypeOrderDeleted    = "ORDER_DELETED"
	EventTypeProductLowStock = "PRODUCT_LOW_STOCK"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after an order commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	Items       []OrderItemData `json:"items"`
}

// OrderDeletedEvent published after an order is removed and its stock returned
type OrderDeletedEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	Items   []OrderItemData `json:"items"`
}

// ProductLowStockEvent published when a sale takes a product to or below its threshold
type ProductLowStockEvent struct {
	BaseEvent
	ProductID         int64  `json:"product_id"`
	ProductName       string `json:"product_name"`
	AvailableQuantity int    `json:"available_quantity"`
	Threshold         int    `json:"threshold"`
	OrderID           int64  `json:"order_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}
