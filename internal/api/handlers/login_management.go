package handlers

import (
	"context"
	"net/http"
	"strconv"

	"login-management-go/internal/core/models"
	"login-management-go/internal/services/management"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Drainer runs a queue drain and reports the backlog
type Drainer interface {
	Run(ctx context.Context) (management.Summary, error)
	PendingCount(ctx context.Context) (int64, error)
}

// ItemReader looks up queue items and their groups
type ItemReader interface {
	FindByID(ctx context.Context, id uint) (*models.QueueItem, error)
	FindGroupByUUID(ctx context.Context, uuid string) (*models.Group, error)
	Ping(ctx context.Context) error
}

// LoginManagementHandler exposes the manual trigger and queue status
type LoginManagementHandler struct {
	drainer Drainer
	items   ItemReader
}

// NewLoginManagementHandler creates the handler
func NewLoginManagementHandler(drainer Drainer, items ItemReader) *LoginManagementHandler {
	return &LoginManagementHandler{drainer: drainer, items: items}
}

// RegisterRoutes registers the routes under /api/login-management
func (h *LoginManagementHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/process", h.Process)
	router.GET("/status", h.Status)
	router.GET("/items/:id", h.GetItem)
}

// Process runs a drain synchronously. A drain already in flight is joined.
func (h *LoginManagementHandler) Process(c *gin.Context) {
	log.Info("Manual processing triggered via API")

	summary, err := h.drainer.Run(c.Request.Context())
	if err != nil {
		log.Errorf("Manual processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Processing failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Processing executed successfully",
		"summary": summary,
	})
}

// Status returns the number of pending items
func (h *LoginManagementHandler) Status(c *gin.Context) {
	count, err := h.drainer.PendingCount(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to count pending items: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to retrieve status: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"pendingItems": count,
		"message":      "Status retrieved successfully",
	})
}

// GetItem returns one queue item
func (h *LoginManagementHandler) GetItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid item id"})
		return
	}

	item, err := h.items.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Item not found"})
		return
	}

	resp := gin.H{
		"success": true,
		"item": gin.H{
			"id":               item.ID,
			"userCode":         item.UserCode,
			"externalKey":      item.ExternalKey,
			"type":             item.ManagementType.String(),
			"status":           item.ManagementStatus.String(),
			"lastChangeLog":    item.LastChangeLog,
			"supplementalData": item.SupplementalData,
			"changedAt":        item.ChangedAt,
		},
	}
	if group := h.groupOf(c.Request.Context(), item); group != nil {
		resp["group"] = gin.H{
			"uuid":           group.UUID,
			"name":           group.Name,
			"originatingKey": group.OriginatingKey,
			"createdAt":      group.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// groupOf returns the locally recorded group the item refers to, if any
func (h *LoginManagementHandler) groupOf(ctx context.Context, item *models.QueueItem) *models.Group {
	data, err := models.ParseSupplementalData(item.SupplementalData)
	if err != nil {
		return nil
	}
	uuid := data.GroupUUID()
	if uuid == "" {
		return nil
	}
	group, err := h.items.FindGroupByUUID(ctx, uuid)
	if err != nil {
		log.Warnf("Failed to look up group %s: %v", uuid, err)
		return nil
	}
	return group
}
