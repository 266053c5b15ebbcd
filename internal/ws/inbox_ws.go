package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campus-market/internal/inbox"
	"campus-market/internal/middleware"
)

// InboxLister computes a user's conversation list.
type InboxLister interface {
	List(ctx context.Context, userID string) ([]inbox.Summary, error)
}

// InboxFrame is what an inbox feed sends after every change.
type InboxFrame struct {
	Type          string          `json:"type"`
	Conversations []inbox.Summary `json:"conversations"`
}

// InboxWebSocketHandler streams a user's conversation list. Any message or
// conversation event for the user triggers a full recompute.
type InboxWebSocketHandler struct {
	hub     *Hub
	inbox   InboxLister
	emitter EventEmitter
	logger  *slog.Logger
}

func NewInboxWebSocketHandler(hub *Hub, lister InboxLister, emitter EventEmitter, logger *slog.Logger) *InboxWebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxWebSocketHandler{hub: hub, inbox: lister, emitter: emitter, logger: logger}
}

func (h *InboxWebSocketHandler) Handle(c *gin.Context) {
	userID := middleware.UserID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	sub := h.hub.SubscribeUser(userID)
	info := newConnInfo(c, "inbox", userID, userID)
	go h.serve(context.WithoutCancel(c.Request.Context()), conn, sub, info)
}

func (h *InboxWebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, sub *Subscription, info ConnInfo) {
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

	if reason = h.push(ctx, conn, info.UserID); reason != nil {
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
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			drain(sub)
			if reason = h.push(ctx, conn, info.UserID); reason != nil {
				return
			}
		}
	}
}

// drain discards queued events; one recompute covers them all.
func drain(sub *Subscription) {
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		default:
			sub.Lagged()
			return
		}
	}
}

func (h *InboxWebSocketHandler) push(ctx context.Context, conn *websocket.Conn, userID string) error {
	list, err := h.inbox.List(ctx, userID)
	if err != nil {
		h.logger.Warn("inbox refresh failed", "user_id", userID, "err", err)
		return nil
	}
	return writeJSON(conn, InboxFrame{Type: "inbox", Conversations: list})
}
