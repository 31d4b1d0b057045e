package api

import (
	"bytes"
	"net/http"
	"strconv"

	"pos-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) reportRange(c *gin.Context) service.DateRange {
	return h.analytics.ReportRange(c.Query("start_date"), c.Query("end_date"))
}

// salesSummary accepts ?limit to cap top_products
func (h *Handler) salesSummary(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	summary, err := h.analytics.SalesSummary(c.Request.Context(), h.reportRange(c), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) categorySalesSummary(c *gin.Context) {
	summary, err := h.analytics.CategorySummary(c.Request.Context(), h.reportRange(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) todayOrders(c *gin.Context) {
	today, err := h.analytics.TodayOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, today)
}

// exportCSV renders the whole report before writing so a failed query still
// gets a JSON error response.
func (h *Handler) exportCSV(c *gin.Context) {
	r := h.reportRange(c)

	var buf bytes.Buffer
	if _, err := h.analytics.ExportCSV(c.Request.Context(), r, &buf); err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+service.CSVFilename(r)+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
