package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_deleted_total",
		Help: "Total number of orders deleted with stock returned",
	})

	OrderPlacementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_order_placement_failures_total",
		Help: "Total number of rejected or failed order placements",
	}, []string{"reason"})

	OrderPlacementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_order_placement_retries_total",
		Help: "Placement transactions retried after a serialization failure",
	})

	OrderPlacementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_order_placement_latency_seconds",
		Help:    "Latency of the order placement transaction",
		Buckets: prometheus.DefBuckets,
	})

	ItemsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_items_sold_total",
		Help: "Units sold across all placed orders",
	})

	LowStockEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_low_stock_events_total",
		Help: "Products that crossed into low stock during placement",
	})

	StockAlertsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_stock_alerts_recorded_total",
		Help: "Low stock alerts stored by the alert worker",
	})

	SummaryCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_summary_cache_requests_total",
		Help: "Sales summary cache lookups",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
