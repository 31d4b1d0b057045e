package api

import (
	"time"

	"pos-service/internal/models"
	"pos-service/internal/service"

	"github.com/shopspring/decimal"
)

type categoryRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type productRequest struct {
	Name              string              `json:"name"`
	Category          int64               `json:"category"`
	CostPrice         decimal.Decimal     `json:"cost_price"`
	SellingPrice      decimal.NullDecimal `json:"selling_price"`
	Quantity          int                 `json:"quantity"`
	LowStockThreshold *int                `json:"low_stock_threshold"`
	Description       *string             `json:"description"`
	SKU               *string             `json:"sku"`
}

func (r *productRequest) input() service.ProductInput {
	return service.ProductInput{
		Name:              r.Name,
		CategoryID:        r.Category,
		CostPrice:         r.CostPrice,
		SellingPrice:      r.SellingPrice,
		Quantity:          r.Quantity,
		LowStockThreshold: r.LowStockThreshold,
		Description:       r.Description,
		SKU:               r.SKU,
	}
}

// ProductResponse is a product with its derived stock and margin figures
type ProductResponse struct {
	models.ProductListing
	AvailableQuantity int             `json:"available_quantity"`
	IsLowStock        bool            `json:"is_low_stock"`
	TotalValue        decimal.Decimal `json:"total_value"`
	TotalSoldValue    decimal.Decimal `json:"total_sold_value"`
	ProfitPerUnit     decimal.Decimal `json:"profit_per_unit"`
	ProfitMargin      decimal.Decimal `json:"profit_margin"`
}

func newProductResponse(p *models.ProductListing) ProductResponse {
	return ProductResponse{
		ProductListing:    *p,
		AvailableQuantity: p.AvailableQuantity(),
		IsLowStock:        p.IsLowStock(),
		TotalValue:        p.TotalValue(),
		TotalSoldValue:    p.TotalSoldValue(),
		ProfitPerUnit:     p.ProfitPerUnit(),
		ProfitMargin:      p.ProfitMargin(),
	}
}

type stockUpdateRequest struct {
	Updates []struct {
		ProductID int64 `json:"product_id"`
		Quantity  *int  `json:"quantity"`
	} `json:"updates"`
}

type orderItemRequest struct {
	Product  int64 `json:"product"`
	Quantity int   `json:"quantity"`
}

type createOrderRequest struct {
	Notes      *string            `json:"notes"`
	OrderItems []orderItemRequest `json:"order_items"`
}

func (r *createOrderRequest) placeRequest(idempotencyKey string) *service.PlaceOrderRequest {
	req := &service.PlaceOrderRequest{Notes: r.Notes, IdempotencyKey: idempotencyKey}
	for _, it := range r.OrderItems {
		req.Items = append(req.Items, service.BasketLine{ProductID: it.Product, Quantity: it.Quantity})
	}
	return req
}

// OrderItemResponse is one line of an order detail
type OrderItemResponse struct {
	ID          int64           `json:"id"`
	Product     int64           `json:"product"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Profit      decimal.Decimal `json:"profit"`
}

// OrderResponse is an order with its lines
type OrderResponse struct {
	ID          int64               `json:"id"`
	OrderDate   time.Time           `json:"order_date"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	TotalProfit decimal.Decimal     `json:"total_profit"`
	Notes       *string             `json:"notes"`
	OrderItems  []OrderItemResponse `json:"order_items"`
}

func newOrderResponse(d *service.OrderDetail) OrderResponse {
	resp := OrderResponse{
		ID:          d.Order.ID,
		OrderDate:   d.Order.OrderDate,
		TotalAmount: d.Order.TotalAmount,
		TotalProfit: d.Order.TotalProfit,
		Notes:       d.Order.Notes,
		OrderItems:  make([]OrderItemResponse, 0, len(d.Items)),
	}
	for i := range d.Items {
		it := &d.Items[i]
		resp.OrderItems = append(resp.OrderItems, OrderItemResponse{
			ID:          it.ID,
			Product:     it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			UnitCost:    it.UnitCost,
			Subtotal:    it.Subtotal(),
			Profit:      it.Profit(),
		})
	}
	return resp
}
