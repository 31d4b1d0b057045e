package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderColumns = "o.id, o.order_date, o.total_amount, o.total_profit, o.notes"

// LockProducts reads the given products and holds their rows locked until
// the transaction ends. Locks are taken in ascending ID order so concurrent
// placements touching overlapping baskets cannot deadlock.
func (t *Tx) LockProducts(ctx context.Context, ids []int64) ([]models.Product, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return productsByIDs(ctx, t.tx, sorted, t.dialect.lockSuffix())
}

// InsertOrder creates the order header with zero totals and sets its ID and
// order date.
func (t *Tx) InsertOrder(ctx context.Context, order *models.Order) error {
	order.OrderDate = nowUTC()
	order.TotalAmount, order.TotalProfit = decimal.Zero, decimal.Zero

	id, err := insertID(ctx, t.tx, t.dialect,
		"INSERT INTO orders (order_date, total_amount, total_profit, notes) VALUES (?, ?, ?, ?)",
		order.OrderDate, order.TotalAmount, order.TotalProfit, order.Notes)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	order.ID = id
	return nil
}

// InsertOrderItem creates one order line
func (t *Tx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	id, err := insertID(ctx, t.tx, t.dialect,
		"INSERT INTO order_items (order_id, product_id, quantity, unit_price, unit_cost) VALUES (?, ?, ?, ?, ?)",
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.UnitCost)
	if err != nil {
		return fmt.Errorf("failed to create order item: %w", err)
	}
	item.ID = id
	return nil
}

// IncrementSold adds qty to a product's sold quantity. The update only
// applies while enough stock remains; otherwise ErrConflict is returned.
func (t *Tx) IncrementSold(ctx context.Context, productID int64, qty int) error {
	n, err := exec(ctx, t.tx, `
		UPDATE products
		SET sold_quantity = sold_quantity + ?, updated_at = ?
		WHERE id = ? AND quantity - sold_quantity >= ?`,
		qty, nowUTC(), productID, qty)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d cannot supply %d units: %w", productID, qty, ErrConflict)
	}
	return nil
}

// ReleaseSold returns qty units of a product to available stock
func (t *Tx) ReleaseSold(ctx context.Context, productID int64, qty int) error {
	n, err := exec(ctx, t.tx, `
		UPDATE products
		SET sold_quantity = sold_quantity - ?, updated_at = ?
		WHERE id = ? AND sold_quantity >= ?`,
		qty, nowUTC(), productID, qty)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d has fewer than %d units sold: %w", productID, qty, ErrConflict)
	}
	return nil
}

// UpdateOrderTotals persists the order's cached totals
func (t *Tx) UpdateOrderTotals(ctx context.Context, order *models.Order) error {
	n, err := exec(ctx, t.tx,
		"UPDATE orders SET total_amount = ?, total_profit = ? WHERE id = ?",
		order.TotalAmount, order.TotalProfit, order.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d: %w", order.ID, ErrNotFound)
	}
	return nil
}

// LockOrder reads an order with its items, holding the order row locked.
func (t *Tx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := getOrder(ctx, t.tx, id, t.dialect.lockSuffix())
	if err != nil {
		return nil, err
	}

	query := t.tx.Rebind(`
		SELECT id, order_id, product_id, quantity, unit_price, unit_cost
		FROM order_items WHERE order_id = ? ORDER BY product_id`)
	if err := t.tx.SelectContext(ctx, &order.Items, query, id); err != nil {
		return nil, classify(err)
	}
	return order, nil
}

// DeleteOrder removes an order; its items go with it
func (t *Tx) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := exec(ctx, t.tx, "DELETE FROM order_items WHERE order_id = ?", id); err != nil {
		return err
	}
	n, err := exec(ctx, t.tx, "DELETE FROM orders WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetOrderByID retrieves an order header by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, s.db, id, "")
}

func getOrder(ctx context.Context, q sqlx.ExtContext, id int64, suffix string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order,
		q.Rebind("SELECT "+orderColumns+" FROM orders o WHERE o.id = ?"+suffix), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order with their product names
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItemDetail, error) {
	query := s.db.Rebind(`
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.unit_cost,
			p.name AS product_name
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ?
		ORDER BY oi.id`)

	items := []models.OrderItemDetail{}
	if err := s.db.SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return items, nil
}

// TimeRange bounds order dates. From is inclusive, To exclusive; nil leaves
// that side open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

func (r TimeRange) where(column string) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if r.From != nil {
		conds = append(conds, column+" >= ?")
		args = append(args, r.From.UTC())
	}
	if r.To != nil {
		conds = append(conds, column+" < ?")
		args = append(args, r.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListOrders returns order headers in the range, newest first
func (s *Store) ListOrders(ctx context.Context, r TimeRange) ([]models.OrderSummary, error) {
	where, args := r.where("o.order_date")
	query := "SELECT " + orderColumns + `,
			(SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.id) AS items_count
		FROM orders o` + where + `
		ORDER BY o.order_date DESC, o.id DESC`

	orders := []models.OrderSummary{}
	if err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ListSaleLines returns every order line in the range joined with product
// and category names, newest order first.
func (s *Store) ListSaleLines(ctx context.Context, r TimeRange) ([]models.SaleLine, error) {
	where, args := r.where("o.order_date")
	query := `
		SELECT o.id AS order_id, o.order_date, oi.id AS item_id, oi.product_id,
			p.name AS product_name, c.id AS category_id, c.name AS category_name,
			oi.quantity, oi.unit_price, oi.unit_cost
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		JOIN categories c ON c.id = p.category_id` + where + `
		ORDER BY o.order_date DESC, o.id DESC, oi.id`

	lines := []models.SaleLine{}
	if err := s.db.SelectContext(ctx, &lines, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list sale lines: %w", err)
	}
	return lines, nil
}

// CountOrders returns the number of orders in the range
func (s *Store) CountOrders(ctx context.Context, r TimeRange) (int, error) {
	where, args := r.where("o.order_date")
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM orders o"+where), args...)
	return n, err
}
