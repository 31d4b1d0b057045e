package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the part of Producer the publisher needs
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBase(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			UnitCost:  item.UnitCost,
		})
	}
	return data
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, order *models.Order) error {
	event := &models.OrderPlacedEvent{
		BaseEvent:   newBase(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
		TotalProfit: order.TotalProfit,
		Items:       itemData(order.Items),
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%d", order.ID), event)
}

// PublishOrderDeleted publishes OrderDeleted event
func (ep *EventPublisher) PublishOrderDeleted(ctx context.Context, order *models.Order) error {
	event := &models.OrderDeletedEvent{
		BaseEvent: newBase(models.EventTypeOrderDeleted),
		OrderID:   order.ID,
		Items:     itemData(order.Items),
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%d", order.ID), event)
}

// PublishProductLowStock publishes ProductLowStock event
func (ep *EventPublisher) PublishProductLowStock(ctx context.Context, product *models.Product, orderID int64) error {
	event := &models.ProductLowStockEvent{
		BaseEvent:         newBase(models.EventTypeProductLowStock),
		ProductID:         product.ID,
		ProductName:       product.Name,
		AvailableQuantity: product.AvailableQuantity(),
		Threshold:         product.LowStockThreshold,
		OrderID:           orderID,
	}
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("product-%d", product.ID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onProductLowStock func(context.Context, *models.ProductLowStockEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnProductLowStock registers a handler for ProductLowStock events
func (eh *EventHandler) OnProductLowStock(handler func(context.Context, *models.ProductLowStockEvent) error) {
	eh.onProductLowStock = handler
}

// HandleMessage routes messages to appropriate handlers. Event types without a
// registered handler are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeProductLowStock:
		if eh.onProductLowStock != nil {
			var event models.ProductLowStockEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductLowStock event: %w", err)
			}
			return eh.onProductLowStock(ctx, &event)
		}

	case models.EventTypeOrderPlaced, models.EventTypeOrderDeleted:

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
