package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus-market/internal/telemetry"
	"campus-market/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, hub *ws.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "audit emitter not configured"})
			return
		}
		emitter.Audit(c.Request.Context(), "INFO", "audit test", currentUser(c))
		c.JSON(http.StatusOK, gin.H{"success": true, "request_id": requestID(c)})
	})

	router.GET("/debug/hub", func(c *gin.Context) {
		conversations, users := hub.Counts()
		c.JSON(http.StatusOK, gin.H{"success": true, "conversation_subscriptions": conversations, "user_subscriptions": users})
	})
}
