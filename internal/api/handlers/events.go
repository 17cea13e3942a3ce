package handlers

import (
	"io"
	"net/http"

	"login-management-go/internal/server/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// EventsHandler streams item outcomes as server-sent events
type EventsHandler struct {
	hub *sse.Hub
}

// NewEventsHandler creates the handler
func NewEventsHandler(hub *sse.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// RegisterRoutes registers the routes under /api/monitoring
func (h *EventsHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.Stream)
}

// Stream sends one "outcome" event per terminal transition until the client disconnects
func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	client := sse.NewClient()
	if err := h.hub.Register(ctx, client); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Event stream unavailable: " + err.Error()})
		return
	}
	defer h.hub.Unregister(client)
	log.Debug("SSE client connected")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case message, open := <-client:
			if !open {
				return false
			}
			c.SSEvent("outcome", string(message))
			return true
		case <-ctx.Done():
			return false
		}
	})
	log.Debug("SSE client disconnected")
}
