package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errRequired        = errors.New("this field is required")
	errNotPositive     = errors.New("must be greater than zero")
	errNegative        = errors.New("must not be negative")
	errUnknownCategory = errors.New("category does not exist")
)

// CatalogService manages categories, products and stock levels
type CatalogService struct {
	store                    *store.Store
	defaultLowStockThreshold int
	logger                   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store, defaultLowStockThreshold int) *CatalogService {
	return &CatalogService{
		store:                    store,
		defaultLowStockThreshold: defaultLowStockThreshold,
		logger:                   util.GetLogger(),
	}
}

// CategoryInput holds the editable fields of a category
type CategoryInput struct {
	Name        string
	Description *string
}

func (in *CategoryInput) normalize() []Violation {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = trimOptional(in.Description)
	if in.Name == "" {
		return []Violation{{Field: "name", Err: errRequired}}
	}
	return nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.CategoryListing, error) {
	categories, err := s.store.ListCategories(ctx)
	return categories, storeError(err)
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*models.CategoryListing, error) {
	category, err := s.store.GetCategory(ctx, id)
	return category, storeError(err)
}

// CreateCategory validates and stores a new category
func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	if err := invalid(in.normalize()); err != nil {
		return nil, err
	}

	c := &models.Category{Name: in.Name, Description: in.Description}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("Category created", zap.Int64("category_id", c.ID), zap.String("name", c.Name))
	return c, nil
}

// UpdateCategory replaces a category's fields
func (s *CatalogService) UpdateCategory(ctx context.Context, id int64, in CategoryInput) (*models.CategoryListing, error) {
	if err := invalid(in.normalize()); err != nil {
		return nil, err
	}

	c := &models.Category{ID: id, Name: in.Name, Description: in.Description}
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, storeError(err)
	}
	return s.GetCategory(ctx, id)
}

// DeleteCategory removes a category without products
func (s *CatalogService) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return storeError(err)
	}
	s.logger.Info("Category deleted", zap.Int64("category_id", id))
	return nil
}

// ProductInput holds the editable fields of a product
type ProductInput struct {
	Name              string
	CategoryID        int64
	CostPrice         decimal.Decimal
	SellingPrice      decimal.NullDecimal
	Quantity          int
	LowStockThreshold *int
	Description       *string
	SKU               *string
}

func (s *CatalogService) validateProduct(ctx context.Context, in *ProductInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = trimOptional(in.Description)
	in.SKU = trimOptional(in.SKU)
	in.CostPrice = in.CostPrice.Round(2)
	if in.SellingPrice.Valid {
		in.SellingPrice.Decimal = in.SellingPrice.Decimal.Round(2)
	}
	if in.LowStockThreshold == nil {
		threshold := s.defaultLowStockThreshold
		in.LowStockThreshold = &threshold
	}

	var violations []Violation
	if in.Name == "" {
		violations = append(violations, Violation{Field: "name", Err: errRequired})
	}
	if in.CategoryID <= 0 {
		violations = append(violations, Violation{Field: "category", Err: errRequired})
	} else if _, err := s.store.GetCategory(ctx, in.CategoryID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return storeError(err)
		}
		violations = append(violations, Violation{Field: "category", Err: errUnknownCategory})
	}
	if !in.CostPrice.IsPositive() {
		violations = append(violations, Violation{Field: "cost_price", Err: errNotPositive})
	}
	if in.SellingPrice.Valid && !in.SellingPrice.Decimal.IsPositive() {
		violations = append(violations, Violation{Field: "selling_price", Err: errNotPositive})
	}
	if in.Quantity < 0 {
		violations = append(violations, Violation{Field: "quantity", Err: errNegative})
	}
	if *in.LowStockThreshold < 0 {
		violations = append(violations, Violation{Field: "low_stock_threshold", Err: errNegative})
	}
	return invalid(violations)
}

func (in *ProductInput) apply(p *models.Product) {
	p.Name = in.Name
	p.CategoryID = in.CategoryID
	p.CostPrice = in.CostPrice
	p.SellingPrice = in.SellingPrice
	p.Quantity = in.Quantity
	p.LowStockThreshold = *in.LowStockThreshold
	p.Description = in.Description
	p.SKU = in.SKU
}

// ListProducts returns products matching filter, ordered by name
func (s *CatalogService) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.ProductListing, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	products, err := s.store.ListProducts(ctx, filter)
	return products, storeError(err)
}

// ListProductsByCategory returns the products filed under one category
func (s *CatalogService) ListProductsByCategory(ctx context.Context, categoryID int64) ([]models.ProductListing, error) {
	return s.ListProducts(ctx, store.ProductFilter{CategoryID: categoryID})
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.ProductListing, error) {
	product, err := s.store.GetProductByID(ctx, id)
	return product, storeError(err)
}

// CreateProduct validates and stores a new product
func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*models.ProductListing, error) {
	if err := s.validateProduct(ctx, &in); err != nil {
		return nil, err
	}

	p := &models.Product{}
	in.apply(p)
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	return s.GetProduct(ctx, p.ID)
}

// UpdateProduct replaces a product's editable fields. Sold quantity is kept;
// a quantity below it is rejected.
func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*models.ProductListing, error) {
	if err := s.validateProduct(ctx, &in); err != nil {
		return nil, err
	}

	p := &models.Product{ID: id}
	in.apply(p)
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, invalid([]Violation{{Field: "quantity", Err: stripSentinel(err)}})
		}
		return nil, storeError(err)
	}
	return s.GetProduct(ctx, id)
}

// DeleteProduct removes a product that no order references
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return storeError(err)
	}
	s.logger.Info("Product deleted", zap.Int64("product_id", id))
	return nil
}

// LowStockProduct is one entry of the inventory summary's low stock list
type LowStockProduct struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	AvailableQuantity int    `json:"available_quantity"`
	Threshold         int    `json:"threshold"`
}

// InventorySummary aggregates stock and value over the whole catalog
type InventorySummary struct {
	TotalProducts               int               `json:"total_products"`
	TotalCategories             int               `json:"total_categories"`
	LowStockCount               int               `json:"low_stock_count"`
	TotalInventoryValue         decimal.Decimal   `json:"total_inventory_value"`
	TotalSoldValue              decimal.Decimal   `json:"total_sold_value"`
	TotalQuantity               int               `json:"total_quantity"`
	TotalSoldQuantity           int               `json:"total_sold_quantity"`
	TotalAvailableQuantity      int               `json:"total_available_quantity"`
	InventoryTurnoverPercentage decimal.Decimal   `json:"inventory_turnover_percentage"`
	LowStockProducts            []LowStockProduct `json:"low_stock_products"`
}

// InventorySummary computes catalog-wide stock figures
func (s *CatalogService) InventorySummary(ctx context.Context) (*InventorySummary, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.InventorySummary")
	defer span.End()

	products, err := s.store.ListProducts(ctx, store.ProductFilter{})
	if err != nil {
		return nil, storeError(err)
	}
	categories, err := s.store.CountCategories(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	sum := &InventorySummary{
		TotalProducts:               len(products),
		TotalCategories:             categories,
		TotalInventoryValue:         decimal.Zero,
		TotalSoldValue:              decimal.Zero,
		InventoryTurnoverPercentage: decimal.Zero,
		LowStockProducts:            []LowStockProduct{},
	}
	for i := range products {
		p := &products[i].Product
		sum.TotalInventoryValue = sum.TotalInventoryValue.Add(p.TotalValue())
		sum.TotalSoldValue = sum.TotalSoldValue.Add(p.TotalSoldValue())
		sum.TotalQuantity += p.Quantity
		sum.TotalSoldQuantity += p.SoldQuantity
		sum.TotalAvailableQuantity += p.AvailableQuantity()
		if p.IsLowStock() {
			sum.LowStockCount++
			sum.LowStockProducts = append(sum.LowStockProducts, LowStockProduct{
				ID:                p.ID,
				Name:              p.Name,
				AvailableQuantity: p.AvailableQuantity(),
				Threshold:         p.LowStockThreshold,
			})
		}
	}
	if sum.TotalQuantity > 0 {
		sum.InventoryTurnoverPercentage = decimal.NewFromInt(int64(sum.TotalSoldQuantity)).
			Div(decimal.NewFromInt(int64(sum.TotalQuantity))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return sum, nil
}

// Stock update outcomes
const (
	StockUpdated  = "updated"
	StockNotFound = "not_found"
	StockInvalid  = "invalid"
)

// StockUpdate sets one product's received quantity
type StockUpdate struct {
	ProductID int64
	Quantity  *int
}

// StockUpdateResult reports what happened to one StockUpdate
type StockUpdateResult struct {
	Index     int    `json:"index"`
	ProductID int64  `json:"product_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Quantity  *int   `json:"quantity,omitempty"`
}

// BulkUpdateStock applies each update independently and reports a result per
// entry. Only storage failures abort the whole call.
func (s *CatalogService) BulkUpdateStock(ctx context.Context, updates []StockUpdate) ([]StockUpdateResult, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.BulkUpdateStock")
	defer span.End()

	if len(updates) == 0 {
		return nil, invalid([]Violation{{Field: "updates", Err: errRequired}})
	}

	results := make([]StockUpdateResult, 0, len(updates))
	for i, u := range updates {
		res := StockUpdateResult{Index: i, ProductID: u.ProductID}

		switch {
		case u.ProductID <= 0:
			res.Status, res.Message = StockInvalid, "product_id is required"
		case u.Quantity == nil:
			res.Status, res.Message = StockInvalid, "quantity is required"
		case *u.Quantity < 0:
			res.Status, res.Message = StockInvalid, "quantity must not be negative"
		default:
			p, err := s.store.SetProductQuantity(ctx, u.ProductID, *u.Quantity)
			switch {
			case err == nil:
				q := p.Quantity
				res.Status, res.Quantity = StockUpdated, &q
			case errors.Is(err, store.ErrNotFound):
				res.Status, res.Message = StockNotFound, fmt.Sprintf("product %d not found", u.ProductID)
			case errors.Is(err, store.ErrConflict):
				res.Status, res.Message = StockInvalid, stripSentinel(err).Error()
			default:
				return nil, storeError(err)
			}
		}
		results = append(results, res)
	}

	s.logger.Info("Bulk stock update applied", zap.Int("entries", len(updates)))
	return results, nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// stripSentinel drops the trailing ": conflict" the store appends so the
// message reads as a field error.
func stripSentinel(err error) error {
	msg := strings.TrimSuffix(err.Error(), ": "+store.ErrConflict.Error())
	return errors.New(msg)
}
