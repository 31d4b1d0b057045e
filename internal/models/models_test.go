package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestProductDerivedValues(t *testing.T) {
	p := &Product{
		CostPrice:         price("6"),
		SellingPrice:      decimal.NewNullDecimal(price("10")),
		Quantity:          12,
		SoldQuantity:      5,
		LowStockThreshold: 7,
	}

	assert.Equal(t, 7, p.AvailableQuantity())
	assert.True(t, p.IsLowStock())
	assert.True(t, p.TotalValue().Equal(price("42")))
	assert.True(t, p.TotalSoldValue().Equal(price("50")))
	assert.True(t, p.ProfitPerUnit().Equal(price("4")))
	assert.True(t, p.ProfitMargin().Equal(price("40")))

	p.LowStockThreshold = 6
	assert.False(t, p.IsLowStock())
}

func TestProductAvailableNeverNegative(t *testing.T) {
	p := &Product{CostPrice: price("1"), Quantity: 3, SoldQuantity: 5}

	assert.Equal(t, 0, p.AvailableQuantity())
	assert.True(t, p.TotalValue().IsZero())
}

func TestProductWithoutSellingPrice(t *testing.T) {
	p := &Product{CostPrice: price("2.50"), Quantity: 4, SoldQuantity: 1}

	assert.True(t, p.TotalSoldValue().IsZero())
	assert.True(t, p.ProfitPerUnit().IsZero())
	assert.True(t, p.ProfitMargin().IsZero())
}

func TestOrderItemEconomics(t *testing.T) {
	item := OrderItem{Quantity: 3, UnitPrice: price("10.50"), UnitCost: price("6.25")}

	assert.True(t, item.Subtotal().Equal(price("31.50")))
	assert.True(t, item.Profit().Equal(price("12.75")))
}

func TestRecomputeTotals(t *testing.T) {
	order := &Order{
		TotalAmount: price("999"),
		Items: []OrderItem{
			{Quantity: 5, UnitPrice: price("10"), UnitCost: price("6")},
			{Quantity: 1, UnitPrice: price("3.20"), UnitCost: price("3.40")},
		},
	}

	order.RecomputeTotals()

	assert.True(t, order.TotalAmount.Equal(price("53.20")), order.TotalAmount.String())
	assert.True(t, order.TotalProfit.Equal(price("19.80")), order.TotalProfit.String())
}

func genItem() *rapid.Generator[OrderItem] {
	return rapid.Custom(func(t *rapid.T) OrderItem {
		return OrderItem{
			Quantity:  rapid.IntRange(1, 500).Draw(t, "quantity"),
			UnitPrice: decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "price_cents"), -2),
			UnitCost:  decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "cost_cents"), -2),
		}
	})
}

func TestRecomputeTotalsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOfN(genItem(), 1, 20).Draw(t, "items")
		order := &Order{Items: items}

		order.RecomputeTotals()
		firstAmount, firstProfit := order.TotalAmount, order.TotalProfit
		order.RecomputeTotals()

		if !order.TotalAmount.Equal(firstAmount) || !order.TotalProfit.Equal(firstProfit) {
			t.Fatalf("recomputation not idempotent: %s/%s then %s/%s",
				firstAmount, firstProfit, order.TotalAmount, order.TotalProfit)
		}

		amount, profit := decimal.Zero, decimal.Zero
		for _, it := range items {
			amount = amount.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
			profit = profit.Add(it.UnitPrice.Sub(it.UnitCost).Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		if !order.TotalAmount.Equal(amount) {
			t.Fatalf("total_amount %s != sum of subtotals %s", order.TotalAmount, amount)
		}
		if !order.TotalProfit.Equal(profit) {
			t.Fatalf("total_profit %s != sum of profits %s", order.TotalProfit, profit)
		}
	})
}
