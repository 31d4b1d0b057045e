package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// createOrder handles order creation. A replayed Idempotency-Key answers
// 200 with the original order.
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.orders.PlaceOrder(c.Request.Context(), req.placeRequest(c.GetHeader("Idempotency-Key")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		h.logger.Info("Order replayed", zap.Int64("order_id", result.Detail.Order.ID))
	}
	c.JSON(status, newOrderResponse(result.Detail))
}

// listOrders supports ?start_date and ?end_date; malformed dates are ignored
func (h *Handler) listOrders(c *gin.Context) {
	filter := h.analytics.OrderFilter(c.Query("start_date"), c.Query("end_date"))
	orders, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := parseID(c, "order")
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(detail))
}

func (h *Handler) deleteOrder(c *gin.Context) {
	id, ok := parseID(c, "order")
	if !ok {
		return
	}
	if err := h.orders.DeleteOrder(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
