package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campus-market/internal/apperr"
	"campus-market/internal/chat"
	"campus-market/internal/inbox"
	"campus-market/internal/payload"
)

// ConversationHandler exposes the marketplace chat over HTTP.
type ConversationHandler struct {
	engine *chat.Service
	inbox  *inbox.Model
	logger *slog.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(engine *chat.Service, inboxModel *inbox.Model, logger *slog.Logger) *ConversationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{engine: engine, inbox: inboxModel, logger: logger}
}

// Register mounts the conversation routes on group.
func (h *ConversationHandler) Register(group gin.IRoutes) {
	group.POST("/conversations", h.StartConversation)
	group.GET("/conversations", h.ListConversations)
	group.GET("/conversations/:id/messages", h.GetMessages)
	group.GET("/conversations/:id/timeline", h.GetTimeline)
	group.POST("/conversations/:id/messages", h.PostMessage)
	group.POST("/conversations/:id/confirmations", h.ProposeConfirmation)
	group.POST("/conversations/:id/confirmations/:message_id/response", h.RespondToConfirmation)
	group.POST("/conversations/:id/read", h.MarkRead)
}

// StartConversation opens, or returns, the caller's conversation about a listing.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		ListingID int64 `json:"listing_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	conv, created, err := h.engine.StartConversation(c.Request.Context(), req.ListingID, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "conversation": conv, "created": created})
}

// ListConversations returns the caller's conversations with previews and
// unread flags, most recent first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.inbox.List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, apperr.Connectivity(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversations": list})
}

// GetMessages returns the raw messages in server order.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	msgs, err := h.engine.Messages(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}

// GetTimeline returns the rendered conversation and marks it read.
func (h *ConversationHandler) GetTimeline(c *gin.Context) {
	conversationID := c.Param("id")
	userID := currentUser(c)

	view, err := h.engine.Timeline(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	var seen time.Time
	if last, ok := view.Last(); ok {
		seen = last.CreatedAt
	}
	readAt, err := h.inbox.MarkRead(c.Request.Context(), userID, conversationID, seen)
	if err != nil {
		h.logger.Warn("mark read failed", "conversation_id", conversationID, "user_id", userID, "err", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"conversation_id": conversationID,
		"items":           view.Items(),
		"frozen":          view.Frozen(),
		"read_at":         readAt,
	})
}

// PostMessage appends a plain message.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	msg, err := h.engine.SendPlainMessage(c.Request.Context(), c.Param("id"), currentUser(c), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg, "payload": payload.Decode(msg.Text)})
}

// ProposeConfirmation appends a confirmation request.
func (h *ConversationHandler) ProposeConfirmation(c *gin.Context) {
	var req chat.ProposalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	msg, err := h.engine.ProposeConfirmation(c.Request.Context(), c.Param("id"), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg, "payload": payload.Decode(msg.Text)})
}

// RespondToConfirmation accepts or declines a confirmation request.
func (h *ConversationHandler) RespondToConfirmation(c *gin.Context) {
	proposalID, ok := parseMessageID(c)
	if !ok {
		return
	}
	var req struct {
		Decision string `json:"decision"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	decision, err := chat.ParseDecision(req.Decision)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.engine.RespondToConfirmation(c.Request.Context(), c.Param("id"), currentUser(c), proposalID, decision)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":                true,
		"decision":               res.Decision,
		"message":                res.Response,
		"payload":                payload.Decode(res.Response.Text),
		"listing_id":             res.ListingID,
		"notified_conversations": res.NotifiedConversations,
		"fanout_failures":        res.FanoutFailures,
	})
}

// MarkRead records that the caller has seen the conversation up to seen_at.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req struct {
		SeenAt *time.Time `json:"seen_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return
	}

	conversationID := c.Param("id")
	userID := currentUser(c)
	if _, err := h.engine.Conversation(c.Request.Context(), conversationID, userID); err != nil {
		respondError(c, err)
		return
	}

	var seen time.Time
	if req.SeenAt != nil {
		seen = *req.SeenAt
	}
	readAt, err := h.inbox.MarkRead(c.Request.Context(), userID, conversationID, seen)
	if err != nil {
		respondError(c, apperr.Storage(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "read_at": readAt})
}
