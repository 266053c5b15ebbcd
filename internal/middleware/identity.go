package middleware

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campus-market/internal/apperr"
	"campus-market/internal/models"
)

const (
	UserIDHeader     = "X-User-ID"
	UserIDContextKey = "userID"
	maxUserIDLength  = 128
)

// Identity reads the caller's user id, set by the identity-aware gateway in
// front of the service. WebSocket handshakes, whose browser clients cannot
// set headers, may pass it as the user_id query parameter instead. Plain
// HTTP requests never read the query parameter.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" && websocket.IsWebSocketUpgrade(c.Request) {
			userID = strings.TrimSpace(c.Query("user_id"))
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "code": apperr.CodeForbidden, "error": "missing user identity"})
			return
		}
		if !validUserID(userID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "code": apperr.CodeForbidden, "error": "invalid user identity"})
			return
		}

		c.Set(UserIDContextKey, userID)
		c.Next()
	}
}

// UserID returns the identity stored by Identity.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDContextKey)
}

func validUserID(id string) bool {
	if len(id) > maxUserIDLength || id == models.SystemSenderID {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
