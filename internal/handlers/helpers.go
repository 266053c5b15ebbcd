package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"campus-market/internal/apperr"
	"campus-market/internal/middleware"
)

// respondError writes the failure envelope for err.
func respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.JSON(apperr.HTTPStatus(code), gin.H{
		"success": false,
		"code":    code,
		"error":   apperr.MessageOf(err),
	})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"code":    apperr.CodeValidation,
		"error":   "invalid request body: " + err.Error(),
	})
}

func currentUser(c *gin.Context) string {
	return middleware.UserID(c)
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDContextKey)
}

func parseMessageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.Validation("invalid message id"))
		return 0, false
	}
	return id, true
}
