package store

import (
	"context"
	"errors"
	"fmt"

	"pos-service/internal/models"
)

// IsEventProcessed checks if an event has already been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		s.db.Rebind("SELECT COUNT(*) FROM processed_events WHERE event_id = ?"), eventID)
	return count > 0, err
}

// RecordStockAlert stores a low-stock alert and marks its event processed in
// one transaction. It returns false when the event was already recorded.
func (s *Store) RecordStockAlert(ctx context.Context, eventType string, alert *models.StockAlert) (bool, error) {
	err := s.WithTx(ctx, func(tx *Tx) error {
		now := nowUTC()
		if _, err := exec(ctx, tx.tx,
			"INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)",
			alert.EventID, eventType, now); err != nil {
			return err
		}

		id, err := insertID(ctx, tx.tx, tx.dialect, `
			INSERT INTO stock_alerts (event_id, product_id, product_name, available_quantity, threshold, order_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			alert.EventID, alert.ProductID, alert.ProductName, alert.AvailableQuantity,
			alert.Threshold, alert.OrderID, now)
		if err != nil {
			return err
		}
		alert.ID, alert.CreatedAt = id, now
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record stock alert: %w", err)
	}
	return true, nil
}

// ListStockAlerts returns the most recent alerts, newest first
func (s *Store) ListStockAlerts(ctx context.Context, limit int) ([]models.StockAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.Rebind(`
		SELECT id, event_id, product_id, product_name, available_quantity, threshold, order_id, created_at
		FROM stock_alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`)

	alerts := []models.StockAlert{}
	if err := s.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list stock alerts: %w", err)
	}
	return alerts, nil
}
