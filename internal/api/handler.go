package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-service/config"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Backend is the part of the store the handlers reach directly
type Backend interface {
	Ping(ctx context.Context) error
	ListStockAlerts(ctx context.Context, limit int) ([]models.StockAlert, error)
}

// Handler contains HTTP handlers
type Handler struct {
	orders    *service.OrderService
	catalog   *service.CatalogService
	analytics *service.AnalyticsService
	backend   Backend
	cfg       config.ServerConfig
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	catalog *service.CatalogService,
	analytics *service.AnalyticsService,
	backend Backend,
	cfg config.ServerConfig,
) *Handler {
	return &Handler{
		orders:    orders,
		catalog:   catalog,
		analytics: analytics,
		backend:   backend,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(tracingMiddleware())
	router.Use(corsMiddleware(h.cfg.AllowedOrigins))
	if gin.Mode() != gin.ReleaseMode {
		router.Use(gin.Logger())
	}

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/categories", h.listCategories)
		v1.POST("/categories", h.createCategory)
		v1.GET("/categories/:id", h.getCategory)
		v1.PUT("/categories/:id", h.updateCategory)
		v1.DELETE("/categories/:id", h.deleteCategory)

		v1.GET("/products", h.listProducts)
		v1.POST("/products", h.createProduct)
		v1.GET("/products/:id", h.getProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)

		v1.GET("/inventory-summary", h.inventorySummary)
		v1.POST("/update-stock", h.updateStock)

		v1.GET("/orders", h.listOrders)
		v1.POST("/orders", rateLimitMiddleware(h.cfg.OrderRateLimit, h.cfg.OrderRateBurst), h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)

		v1.GET("/sales-summary", h.salesSummary)
		v1.GET("/category-sales-summary", h.categorySalesSummary)
		v1.GET("/today-orders", h.todayOrders)
		v1.GET("/export-csv", h.exportCSV)

		v1.GET("/stock-alerts", h.listStockAlerts)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.backend.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listStockAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	alerts, err := h.backend.ListStockAlerts(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// parseID reads the :id path parameter, writing a 400 when it is not a
// positive integer.
func parseID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + what + " ID",
		})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

type violationResponse struct {
	Field     string `json:"field"`
	Message   string `json:"message"`
	ProductID int64  `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

// writeError maps the service error taxonomy onto status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		violations := make([]violationResponse, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			vr := violationResponse{Field: v.Field, Message: v.Err.Error()}
			var stock *service.InsufficientStockError
			if errors.As(v.Err, &stock) {
				vr.ProductID = stock.ProductID
				vr.Available = &stock.Available
				vr.Requested = &stock.Requested
			}
			violations = append(violations, vr)
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Validation failed",
			"fields":     verr.Fields(),
			"violations": violations,
		})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"details": err.Error(),
		})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Conflict",
			"details": err.Error(),
		})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
	}
}
