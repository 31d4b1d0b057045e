package worker

import (
	"context"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// AlertStore persists low stock alerts exactly once per event
type AlertStore interface {
	RecordStockAlert(ctx context.Context, eventType string, alert *models.StockAlert) (bool, error)
}

// AlertWorker turns PRODUCT_LOW_STOCK events into stored stock alerts
type AlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        AlertStore
	logger       *zap.Logger
}

// NewAlertWorker creates a new alert worker
func NewAlertWorker(consumer *broker.Consumer, store AlertStore) *AlertWorker {
	w := &AlertWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnProductLowStock(w.HandleLowStock)
	return w
}

// Start starts the worker
func (w *AlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock alert worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AlertWorker) Stop() error {
	w.logger.Info("Stopping stock alert worker")
	return w.consumer.Close()
}

// HandleLowStock records one alert. Redelivered events are acknowledged
// without writing a second row.
func (w *AlertWorker) HandleLowStock(ctx context.Context, event *models.ProductLowStockEvent) error {
	ctx, span := util.StartSpan(ctx, "AlertWorker.HandleLowStock")
	defer span.End()

	alert := &models.StockAlert{
		EventID:           event.EventID,
		ProductID:         event.ProductID,
		ProductName:       event.ProductName,
		AvailableQuantity: event.AvailableQuantity,
		Threshold:         event.Threshold,
		OrderID:           event.OrderID,
	}

	inserted, err := w.store.RecordStockAlert(ctx, event.EventType, alert)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !inserted {
		w.logger.Debug("Stock alert already recorded", zap.String("event_id", event.EventID))
		return nil
	}

	util.StockAlertsRecorded.Inc()
	w.logger.Warn("Product low on stock",
		zap.Int64("product_id", event.ProductID),
		zap.String("product_name", event.ProductName),
		zap.Int("available_quantity", event.AvailableQuantity),
		zap.Int("threshold", event.Threshold),
		zap.Int64("order_id", event.OrderID))
	return nil
}
