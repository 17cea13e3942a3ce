package handlers

import (
	"context"
	"net/http"
	"time"

	"login-management-go/internal/core/models"
	"login-management-go/internal/integrations/partner"
	"login-management-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const tokenPrefixLength = 50

// TokenProvider is the token cache as seen by the monitoring endpoints
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	Invalidate()
	Status() partner.TokenStatus
}

// PartnerTester sends direct block/unblock calls for manual testing
type PartnerTester interface {
	BlockUser(ctx context.Context, externalKey string) partner.Result
	UnblockUser(ctx context.Context, externalKey string) partner.Result
}

// MonitoringHandler exposes health, token and partner test endpoints
type MonitoringHandler struct {
	drainer   Drainer
	items     ItemReader
	tokens    TokenProvider
	partner   PartnerTester
	startedAt time.Time
}

// NewMonitoringHandler creates the handler
func NewMonitoringHandler(drainer Drainer, items ItemReader, tokens TokenProvider, tester PartnerTester) *MonitoringHandler {
	return &MonitoringHandler{
		drainer:   drainer,
		items:     items,
		tokens:    tokens,
		partner:   tester,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers the routes under /api/monitoring
func (h *MonitoringHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
	router.GET("/test-token", h.TestToken)
	router.POST("/refresh-token", h.RefreshToken)
	router.GET("/stats", h.Stats)
	router.POST("/test-block/:externalKey", h.TestBlock)
	router.POST("/test-unblock/:externalKey", h.TestUnblock)
}

func healthy(ok bool) string {
	if ok {
		return "HEALTHY"
	}
	return "UNHEALTHY"
}

func tokenPrefix(token string) string {
	if len(token) <= tokenPrefixLength {
		return token + "..."
	}
	return token[:tokenPrefixLength] + "..."
}

// Health checks token retrieval and database reachability
func (h *MonitoringHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	tokenStatus := "VALID"
	token, err := h.tokens.GetValidToken(ctx)
	apiHealthy := err == nil && token != ""
	if err != nil {
		tokenStatus = "ERROR: " + err.Error()
	} else if !apiHealthy {
		tokenStatus = "INVALID"
	}

	dbHealthy := h.items.Ping(ctx) == nil
	var pending int64
	if dbHealthy {
		if pending, err = h.drainer.PendingCount(ctx); err != nil {
			log.Errorf("Failed to count pending items: %v", err)
			dbHealthy = false
		}
	}

	status := http.StatusOK
	if !apiHealthy || !dbHealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"success": true,
		"health": gin.H{
			"overall":      healthy(apiHealthy && dbHealthy),
			"api":          healthy(apiHealthy),
			"database":     healthy(dbHealthy),
			"tokenStatus":  tokenStatus,
			"token":        h.tokens.Status(),
			"pendingItems": pending,
		},
		"message": "Health check executed",
	})
}

// TestToken fetches a token and returns its prefix
func (h *MonitoringHandler) TestToken(c *gin.Context) {
	log.Info("Testing token retrieval")
	h.respondToken(c, "Token obtained successfully")
}

// RefreshToken invalidates the cached token and fetches a new one
func (h *MonitoringHandler) RefreshToken(c *gin.Context) {
	log.Info("Forcing token refresh")
	h.tokens.Invalidate()
	h.respondToken(c, "Token refreshed successfully")
}

func (h *MonitoringHandler) respondToken(c *gin.Context, message string) {
	token, err := h.tokens.GetValidToken(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to obtain token: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     message,
		"tokenPrefix": tokenPrefix(token),
		"tokenLength": len(token),
	})
}

// Stats returns the backlog, the code tables and process statistics
func (h *MonitoringHandler) Stats(c *gin.Context) {
	pending, err := h.drainer.PendingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to retrieve statistics: " + err.Error(),
		})
		return
	}

	systemStatus := "UP_TO_DATE"
	if pending > 0 {
		systemStatus = "PROCESSING_NEEDED"
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"pendingItems": pending,
			"systemStatus": systemStatus,
			"statusCodes": gin.H{
				"queue":   models.StatusQueued,
				"success": models.StatusSuccess,
				"error":   models.StatusError,
			},
			"typeCodes": gin.H{
				"create":  models.TypeCreate,
				"block":   models.TypeBlock,
				"unblock": models.TypeUnblock,
				"reset":   models.TypeReset,
			},
			"system": utils.GetSystemStats(h.startedAt),
		},
		"message": "Statistics retrieved successfully",
	})
}

// TestBlock blocks a partner user directly, outside the queue
func (h *MonitoringHandler) TestBlock(c *gin.Context) {
	key := c.Param("externalKey")
	log.Warnf("TEST: blocking external key %s", key)
	res := h.partner.BlockUser(c.Request.Context(), key)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Block test executed",
		"apiResult": res,
	})
}

// TestUnblock unblocks a partner user directly, outside the queue
func (h *MonitoringHandler) TestUnblock(c *gin.Context) {
	key := c.Param("externalKey")
	log.Warnf("TEST: unblocking external key %s", key)
	res := h.partner.UnblockUser(c.Request.Context(), key)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Unblock test executed",
		"apiResult": gin.H{
			"success":     res.Success,
			"message":     res.Message,
			"data":        res.Data,
			"newPassword": res.Data,
		},
	})
}
