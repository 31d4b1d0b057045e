package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `p.id, p.name, p.category_id, p.cost_price, p.selling_price, p.quantity,
	p.sold_quantity, p.low_stock_threshold, p.description, p.sku, p.created_at, p.updated_at`

// ProductFilter narrows ListProducts. Zero values apply no filter.
type ProductFilter struct {
	CategoryID int64
	LowStock   bool
	Search     string
}

// ListCategories returns all categories ordered by name
func (s *Store) ListCategories(ctx context.Context) ([]models.CategoryListing, error) {
	query := `
		SELECT c.id, c.name, c.description, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM products p WHERE p.category_id = c.id) AS product_count
		FROM categories c
		ORDER BY c.name`

	categories := []models.CategoryListing{}
	if err := s.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// GetCategory retrieves a category by ID
func (s *Store) GetCategory(ctx context.Context, id int64) (*models.CategoryListing, error) {
	query := s.db.Rebind(`
		SELECT c.id, c.name, c.description, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM products p WHERE p.category_id = c.id) AS product_count
		FROM categories c
		WHERE c.id = ?`)

	var category models.CategoryListing
	err := s.db.GetContext(ctx, &category, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// CountCategories returns the number of categories
func (s *Store) CountCategories(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM categories")
	return n, err
}

// CreateCategory inserts a category and fills in its ID and timestamps
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	now := nowUTC()
	id, err := insertID(ctx, s.db, s.dialect,
		"INSERT INTO categories (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)",
		c.Name, c.Description, now, now)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
	return nil
}

// UpdateCategory replaces a category's name and description
func (s *Store) UpdateCategory(ctx context.Context, c *models.Category) error {
	now := nowUTC()
	n, err := exec(ctx, s.db,
		"UPDATE categories SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		c.Name, c.Description, now, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("category %d: %w", c.ID, ErrNotFound)
	}
	c.UpdatedAt = now
	return nil
}

// DeleteCategory removes a category that has no products
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		var products int
		if err := tx.tx.GetContext(ctx, &products,
			tx.tx.Rebind("SELECT COUNT(*) FROM products WHERE category_id = ?"), id); err != nil {
			return err
		}
		if products > 0 {
			return fmt.Errorf("category %d has %d products: %w", id, products, ErrConflict)
		}

		n, err := exec(ctx, tx.tx, "DELETE FROM categories WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("category %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ListProducts retrieves products ordered by name
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.ProductListing, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.CategoryID != 0 {
		where = append(where, "p.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.LowStock {
		where = append(where, "(p.quantity - p.sold_quantity) <= p.low_stock_threshold")
	}
	if f.Search != "" {
		pattern := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, "(LOWER(p.name) LIKE ? OR LOWER(COALESCE(p.sku, '')) LIKE ?)")
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + productColumns + ", c.name AS category_name FROM products p JOIN categories c ON c.id = p.category_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.name, p.id"

	products := []models.ProductListing{}
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.ProductListing, error) {
	return getProduct(ctx, s.db, id, "")
}

func getProduct(ctx context.Context, q sqlx.ExtContext, id int64, suffix string) (*models.ProductListing, error) {
	query := q.Rebind("SELECT " + productColumns + ", c.name AS category_name FROM products p JOIN categories c ON c.id = p.category_id WHERE p.id = ?" + suffix)

	var product models.ProductListing
	err := sqlx.GetContext(ctx, q, &product, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs, ordered by ID
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	return productsByIDs(ctx, s.db, ids, "")
}

func productsByIDs(ctx context.Context, q sqlx.ExtContext, ids []int64, suffix string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products p WHERE p.id IN (?) ORDER BY p.id"+suffix, ids)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	if err := sqlx.SelectContext(ctx, q, &products, q.Rebind(query), args...); err != nil {
		return nil, classify(err)
	}
	return products, nil
}

// CreateProduct inserts a product and fills in its ID and timestamps
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	now := nowUTC()
	id, err := insertID(ctx, s.db, s.dialect, `
		INSERT INTO products (name, category_id, cost_price, selling_price, quantity, sold_quantity,
			low_stock_threshold, description, sku, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		p.Name, p.CategoryID, p.CostPrice, p.SellingPrice, p.Quantity,
		p.LowStockThreshold, p.Description, p.SKU, now, now)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	p.ID, p.SoldQuantity, p.CreatedAt, p.UpdatedAt = id, 0, now, now
	return nil
}

// UpdateProduct replaces a product's editable fields. The new quantity must
// cover what has already been sold.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		current, err := getProduct(ctx, tx.tx, p.ID, tx.dialect.lockSuffix())
		if err != nil {
			return err
		}
		if p.Quantity < current.SoldQuantity {
			return fmt.Errorf("quantity %d is below the %d units already sold: %w",
				p.Quantity, current.SoldQuantity, ErrConflict)
		}

		now := nowUTC()
		if _, err := exec(ctx, tx.tx, `
			UPDATE products
			SET name = ?, category_id = ?, cost_price = ?, selling_price = ?, quantity = ?,
				low_stock_threshold = ?, description = ?, sku = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.CategoryID, p.CostPrice, p.SellingPrice, p.Quantity,
			p.LowStockThreshold, p.Description, p.SKU, now, p.ID); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}

		p.SoldQuantity, p.CreatedAt, p.UpdatedAt = current.SoldQuantity, current.CreatedAt, now
		return nil
	})
}

// SetProductQuantity sets the received stock of one product
func (s *Store) SetProductQuantity(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	var updated *models.Product
	err := s.WithTx(ctx, func(tx *Tx) error {
		current, err := getProduct(ctx, tx.tx, id, tx.dialect.lockSuffix())
		if err != nil {
			return err
		}
		if quantity < current.SoldQuantity {
			return fmt.Errorf("quantity %d is below the %d units already sold: %w",
				quantity, current.SoldQuantity, ErrConflict)
		}

		now := nowUTC()
		if _, err := exec(ctx, tx.tx,
			"UPDATE products SET quantity = ?, updated_at = ? WHERE id = ?", quantity, now, id); err != nil {
			return err
		}

		p := current.Product
		p.Quantity, p.UpdatedAt = quantity, now
		updated = &p
		return nil
	})
	return updated, err
}

// DeleteProduct removes a product that has never been sold
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		var lines int
		if err := tx.tx.GetContext(ctx, &lines,
			tx.tx.Rebind("SELECT COUNT(*) FROM order_items WHERE product_id = ?"), id); err != nil {
			return err
		}
		if lines > 0 {
			return fmt.Errorf("product %d appears on %d order lines: %w", id, lines, ErrConflict)
		}

		n, err := exec(ctx, tx.tx, "DELETE FROM products WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
