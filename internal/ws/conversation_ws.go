package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campus-market/internal/middleware"
	"campus-market/internal/models"
	"campus-market/internal/timeline"
)

// TimelineLoader loads a conversation the user takes part in.
type TimelineLoader interface {
	Timeline(ctx context.Context, conversationID, userID string) (*timeline.View, error)
}

// ReadMarker records that a user has seen a conversation.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID, conversationID string, seen time.Time) (time.Time, error)
}

// Frame types sent on a conversation feed.
const (
	FrameSnapshot = "snapshot"
	FrameTimeline = "timeline"
)

// TimelineFrame is what a conversation feed sends after every change.
type TimelineFrame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Items          []timeline.Item `json:"items"`
	Frozen         bool            `json:"frozen"`
}

// ConversationWebSocketHandler streams one conversation's rendered timeline.
type ConversationWebSocketHandler struct {
	hub     *Hub
	loader  TimelineLoader
	lister  timeline.MessageLister
	marks   ReadMarker
	emitter EventEmitter
	logger  *slog.Logger
}

func NewConversationWebSocketHandler(hub *Hub, loader TimelineLoader, lister timeline.MessageLister, marks ReadMarker, emitter EventEmitter, logger *slog.Logger) *ConversationWebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationWebSocketHandler{hub: hub, loader: loader, lister: lister, marks: marks, emitter: emitter, logger: logger}
}

// Handle checks membership, upgrades the connection and streams frames until
// the peer leaves.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("id")
	userID := middleware.UserID(c)

	// Subscribe before the initial fetch so nothing written in between is lost.
	sub := h.hub.SubscribeConversation(conversationID)
	view, err := h.loader.Timeline(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.hub.Unsubscribe(sub)
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		return
	}

	info := newConnInfo(c, "conversation", conversationID, userID)
	ctx := context.WithoutCancel(c.Request.Context())
	go h.serve(ctx, conn, sub, view, info)
}

func (h *ConversationWebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, sub *Subscription, view *timeline.View, info ConnInfo) {
	done := track(ctx, h.emitter, info)
	var reason error
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
		done(reason)
	}()

	closed := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if reason = h.push(ctx, conn, view, info.UserID, FrameSnapshot); reason != nil {
		return
	}
	for {
		select {
		case reason = <-closed:
			return
		case <-ticker.C:
			if reason = ping(conn); reason != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if !h.apply(ctx, view, sub, ev) {
				continue
			}
			if reason = h.push(ctx, conn, view, info.UserID, FrameTimeline); reason != nil {
				return
			}
		}
	}
}

// apply folds one hub event into the view and reports whether it changed.
func (h *ConversationWebSocketHandler) apply(ctx context.Context, view *timeline.View, sub *Subscription, ev models.ChatEvent) bool {
	if sub.Lagged() || ev.Type == models.EventResync {
		if err := view.Sync(ctx, h.lister); err != nil {
			h.logger.Warn("timeline resync failed", "conversation_id", view.ConversationID(), "err", err)
			return false
		}
		return true
	}
	if ev.Message == nil {
		return false
	}
	return view.Ingest(*ev.Message)
}

func (h *ConversationWebSocketHandler) push(ctx context.Context, conn *websocket.Conn, view *timeline.View, userID, kind string) error {
	frame := TimelineFrame{
		Type:           kind,
		ConversationID: view.ConversationID(),
		Items:          view.Items(),
		Frozen:         view.Frozen(),
	}
	if err := writeJSON(conn, frame); err != nil {
		return err
	}
	if h.marks != nil {
		var seen time.Time
		if last, ok := view.Last(); ok {
			seen = last.CreatedAt
		}
		if _, err := h.marks.MarkRead(ctx, userID, view.ConversationID(), seen); err != nil {
			h.logger.Warn("mark read failed", "conversation_id", view.ConversationID(), "err", err)
		}
	}
	return nil
}
