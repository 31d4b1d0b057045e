package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// EventPublisher publishes order and stock events after commit
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *models.Order) error
	PublishOrderDeleted(ctx context.Context, order *models.Order) error
	PublishProductLowStock(ctx context.Context, product *models.Product, orderID int64) error
}

// IdempotencyStore remembers which order an Idempotency-Key produced
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (int64, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// SummaryCache caches analytics payloads between order changes
type SummaryCache interface {
	GetSummary(ctx context.Context, key string, dest interface{}) (bool, error)
	SetSummary(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateSummaries(ctx context.Context) error
}

const placementLockTTL = 30 * time.Second

// OrderOptions tunes OrderService
type OrderOptions struct {
	MaxAttempts    int
	IdempotencyTTL time.Duration
}

// OrderService places and removes orders
type OrderService struct {
	store       *store.Store
	publisher   EventPublisher
	idempotency IdempotencyStore
	cache       SummaryCache
	opts        OrderOptions
	logger      *zap.Logger

	// place runs one placement transaction; replaced in tests
	place func(ctx context.Context, req *PlaceOrderRequest) (*OrderDetail, []models.Product, error)
}

// NewOrderService creates a new order service. publisher, idempotency and
// cache may be nil to disable those features.
func NewOrderService(
	store *store.Store,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	cache SummaryCache,
	opts OrderOptions,
) *OrderService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	s := &OrderService{
		store:       store,
		publisher:   publisher,
		idempotency: idempotency,
		cache:       cache,
		opts:        opts,
		logger:      util.GetLogger(),
	}
	s.place = s.placeOnce
	return s
}

// BasketLine is one requested product and quantity
type BasketLine struct {
	ProductID int64
	Quantity  int
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	Notes          *string
	Items          []BasketLine
	IdempotencyKey string
}

// OrderDetail is an order with its named line items
type OrderDetail struct {
	Order models.Order
	Items []models.OrderItemDetail
}

// PlaceOrderResult is returned by PlaceOrder. Replayed is set when the
// Idempotency-Key matched an earlier order, which is returned unchanged.
type PlaceOrderResult struct {
	Detail   *OrderDetail
	Replayed bool
}

// PlaceOrder validates the basket, then creates the order and its items and
// deducts stock in one transaction. Nothing is written when any line fails.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	var err error
	defer func() { util.EndSpan(span, err) }()

	shape, wellFormed := checkBasketShape(req.Items)
	if len(req.Items) == 0 {
		err = invalid(shape)
		util.OrderPlacementFailures.WithLabelValues("invalid_basket").Inc()
		return nil, err
	}

	if len(shape) == 0 && req.IdempotencyKey != "" && s.idempotency != nil {
		replay, release, lockErr := s.claimIdempotencyKey(ctx, req.IdempotencyKey)
		if lockErr != nil {
			err = lockErr
			return nil, err
		}
		if replay != nil {
			return replay, nil
		}
		defer release()
	}

	// Unlocked pre-check so obviously bad baskets never open a transaction.
	// Malformed lines are skipped here but the rest are still checked, so the
	// caller sees every problem at once.
	products, err := s.store.GetProductsByIDs(ctx, basketIDs(req.Items, wellFormed))
	if err != nil {
		err = storeError(err)
		return nil, err
	}
	violations := append(shape, checkBasketStock(req.Items, indexProducts(products), wellFormed)...)
	if err = invalid(violations); err != nil {
		util.OrderPlacementFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	start := time.Now()
	var (
		detail   *OrderDetail
		crossing []models.Product
	)
	for attempt := 1; ; attempt++ {
		detail, crossing, err = s.place(ctx, req)
		if err == nil || !errors.Is(err, store.ErrSerialization) {
			break
		}
		if attempt >= s.opts.MaxAttempts {
			err = fmt.Errorf("%w: order placement lost to concurrent updates after %d attempts: %w",
				ErrConflict, attempt, err)
			break
		}

		util.OrderPlacementRetries.Inc()
		s.logger.Warn("Retrying order placement", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			err = storeError(ctx.Err())
			return nil, err
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	util.OrderPlacementLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.OrderPlacementFailures.WithLabelValues(failureReason(err)).Inc()
		err = storeError(err)
		return nil, err
	}

	order := &detail.Order
	util.OrdersPlacedTotal.Inc()
	for _, it := range order.Items {
		util.ItemsSoldTotal.Add(float64(it.Quantity))
	}
	util.ForOrder(s.logger, order.ID).Info("Order placed",
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)))

	s.afterCommit(ctx, order, crossing, req.IdempotencyKey)
	return &PlaceOrderResult{Detail: detail}, nil
}

// claimIdempotencyKey returns the earlier order for key, or takes the
// placement lock for it. release must be called once placement ends.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, key string) (*PlaceOrderResult, func(), error) {
	if orderID, ok, err := s.idempotency.GetIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
	} else if ok {
		detail, err := s.GetOrder(ctx, orderID)
		if err == nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", key),
				zap.Int64("order_id", orderID))
			return &PlaceOrderResult{Detail: detail, Replayed: true}, nil, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		// The remembered order was deleted since; place a fresh one.
	}

	lockKey := "order-placement:" + key
	token, err := s.idempotency.AcquireLock(ctx, lockKey, placementLockTTL)
	if err != nil {
		s.logger.Warn("Placement lock unavailable", zap.String("idempotency_key", key), zap.Error(err))
		return nil, func() {}, nil
	}
	if token == "" {
		return nil, nil, fmt.Errorf("%w: an order with idempotency key %q is already being placed", ErrConflict, key)
	}

	release := func() {
		if err := s.idempotency.ReleaseLock(context.Background(), lockKey, token); err != nil {
			s.logger.Warn("Failed to release placement lock", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
	return nil, release, nil
}

func (s *OrderService) placeOnce(ctx context.Context, req *PlaceOrderRequest) (*OrderDetail, []models.Product, error) {
	var (
		detail   *OrderDetail
		crossing []models.Product
	)

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		locked, err := tx.LockProducts(ctx, basketIDs(req.Items, nil))
		if err != nil {
			return err
		}
		products := indexProducts(locked)

		// Stock may have moved since the pre-check; this read holds the locks.
		if err := invalid(checkBasketStock(req.Items, products, nil)); err != nil {
			return err
		}

		order := &models.Order{Notes: req.Notes}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		detail = &OrderDetail{}
		crossing = crossing[:0]
		for _, line := range req.Items {
			p := products[line.ProductID]
			item := models.OrderItem{
				OrderID:   order.ID,
				ProductID: p.ID,
				Quantity:  line.Quantity,
				UnitPrice: p.SellingPrice.Decimal,
				UnitCost:  p.CostPrice,
			}
			if err := tx.InsertOrderItem(ctx, &item); err != nil {
				return err
			}
			if err := tx.IncrementSold(ctx, p.ID, line.Quantity); err != nil {
				return err
			}

			wasLow := p.IsLowStock()
			p.SoldQuantity += line.Quantity
			if !wasLow && p.IsLowStock() {
				crossing = append(crossing, *p)
			}

			order.Items = append(order.Items, item)
			detail.Items = append(detail.Items, models.OrderItemDetail{OrderItem: item, ProductName: p.Name})
		}

		order.RecomputeTotals()
		if err := tx.UpdateOrderTotals(ctx, order); err != nil {
			return err
		}

		detail.Order = *order
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return detail, crossing, nil
}

func (s *OrderService) afterCommit(ctx context.Context, order *models.Order, crossing []models.Product, idempotencyKey string) {
	if s.publisher != nil {
		if err := s.publisher.PublishOrderPlaced(ctx, order); err != nil {
			util.ForOrder(s.logger, order.ID).Error("Failed to publish OrderPlaced event", zap.Error(err))
		}
		for i := range crossing {
			p := &crossing[i]
			util.LowStockEventsTotal.Inc()
			if err := s.publisher.PublishProductLowStock(ctx, p, order.ID); err != nil {
				s.logger.Error("Failed to publish ProductLowStock event", zap.Int64("product_id", p.ID), zap.Error(err))
			}
		}
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.SetIdempotencyKey(ctx, idempotencyKey, order.ID, s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		}
	}

	s.invalidateSummaries(ctx)
}

func (s *OrderService) invalidateSummaries(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSummaries(ctx); err != nil {
		s.logger.Warn("Failed to invalidate summary cache", zap.Error(err))
	}
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	items, err := s.store.GetOrderItems(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	order.Items = make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		order.Items = append(order.Items, it.OrderItem)
	}
	return &OrderDetail{Order: *order, Items: items}, nil
}

// ListOrders returns orders in the range, newest first
func (s *OrderService) ListOrders(ctx context.Context, r store.TimeRange) ([]models.OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.store.ListOrders(ctx, r)
	return orders, storeError(err)
}

// DeleteOrder removes an order and returns its quantities to stock
func (s *OrderService) DeleteOrder(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrder")
	var err error
	defer func() { util.EndSpan(span, err) }()

	var deleted *models.Order
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := tx.ReleaseSold(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteOrder(ctx, id); err != nil {
			return err
		}
		deleted = order
		return nil
	})
	if err != nil {
		err = storeError(err)
		return err
	}

	util.OrdersDeletedTotal.Inc()
	log := util.ForOrder(s.logger, id)
	log.Info("Order deleted", zap.Int("items", len(deleted.Items)))

	if s.publisher != nil {
		if err := s.publisher.PublishOrderDeleted(ctx, deleted); err != nil {
			log.Error("Failed to publish OrderDeleted event", zap.Error(err))
		}
	}
	s.invalidateSummaries(ctx)
	return nil
}

// basketIDs lists the product ids of the lines selected by only, or of every
// line when only is nil.
func basketIDs(items []BasketLine, only []bool) []int64 {
	ids := make([]int64, 0, len(items))
	for i, it := range items {
		if only == nil || only[i] {
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

func indexProducts(products []models.Product) map[int64]*models.Product {
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return byID
}

func lineField(i int, name string) string {
	return fmt.Sprintf("order_items[%d].%s", i, name)
}

// checkBasketShape validates the basket without touching the database.
// wellFormed[i] reports whether line i passed and can be checked against stock.
func checkBasketShape(items []BasketLine) (violations []Violation, wellFormed []bool) {
	if len(items) == 0 {
		return []Violation{{Field: "order_items", Err: ErrEmptyBasket}}, nil
	}

	wellFormed = make([]bool, len(items))
	seen := make(map[int64]int, len(items))
	for i, line := range items {
		ok := true
		if line.Quantity < 1 {
			violations = append(violations, Violation{Field: lineField(i, "quantity"), Err: ErrInvalidQuantity})
			ok = false
		}
		if line.ProductID <= 0 {
			violations = append(violations, Violation{
				Field: lineField(i, "product"),
				Err:   fmt.Errorf("%w: %d", ErrProductNotFound, line.ProductID),
			})
			continue
		}
		if first, dup := seen[line.ProductID]; dup {
			violations = append(violations, Violation{
				Field: lineField(i, "product"),
				Err:   fmt.Errorf("%w: product %d already on line %d", ErrDuplicateProduct, line.ProductID, first),
			})
			continue
		}
		seen[line.ProductID] = i
		wellFormed[i] = ok
	}
	return violations, wellFormed
}

// checkBasketStock validates lines against current product state. Lines
// not selected by only are skipped; a nil only checks every line.
func checkBasketStock(items []BasketLine, products map[int64]*models.Product, only []bool) []Violation {
	var violations []Violation
	for i, line := range items {
		if only != nil && !only[i] {
			continue
		}
		p, ok := products[line.ProductID]
		if !ok {
			violations = append(violations, Violation{
				Field: lineField(i, "product"),
				Err:   fmt.Errorf("%w: %d", ErrProductNotFound, line.ProductID),
			})
			continue
		}
		if !p.SellingPrice.Valid {
			violations = append(violations, Violation{
				Field: lineField(i, "product"),
				Err:   fmt.Errorf("%w: %s", ErrMissingPrice, p.Name),
			})
		}
		if avail := p.AvailableQuantity(); line.Quantity > avail {
			violations = append(violations, Violation{
				Field: lineField(i, "quantity"),
				Err: &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Available:   avail,
					Requested:   line.Quantity,
				},
			})
		}
	}
	return violations
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrMissingPrice):
		return "missing_price"
	case errors.Is(err, ErrValidation):
		return "invalid_basket"
	case errors.Is(err, ErrConflict), errors.Is(err, store.ErrSerialization), errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "db_error"
	}
}
