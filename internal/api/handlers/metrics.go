package handlers

import (
	"context"
	"net/http"

	"login-management-go/internal/observability"

	"github.com/gin-gonic/gin"
)

// MetricsSource collects the current instrument values
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]observability.Point, error)
}

// MetricsHandler exposes the collected otel instruments as JSON
type MetricsHandler struct {
	source MetricsSource
}

// NewMetricsHandler creates the handler
func NewMetricsHandler(source MetricsSource) *MetricsHandler {
	return &MetricsHandler{source: source}
}

// RegisterRoutes registers the routes under /api/monitoring
func (h *MetricsHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/metrics", h.Metrics)
}

// Metrics returns one entry per data point
func (h *MetricsHandler) Metrics(c *gin.Context) {
	points, err := h.source.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to collect metrics: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"metrics": points,
	})
}
