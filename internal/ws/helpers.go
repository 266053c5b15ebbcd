package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"campus-market/internal/apperr"
	"campus-market/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventEmitter publishes connection lifecycle events.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, userID string, payload any)
}

func newConnInfo(c *gin.Context, kind, resourceID, userID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		Kind:        kind,
		ResourceID:  resourceID,
		UserID:      userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(c.Request.Context()),
		TraceID:     observability.TraceID(c.Request.Context()),
		ConnectedAt: time.Now(),
	}
}

func abortWithError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(code), gin.H{"success": false, "code": code, "error": apperr.MessageOf(err)})
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// readPump discards client frames and reports when the peer goes away.
func readPump(conn *websocket.Conn) <-chan error {
	done := make(chan error, 1)
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()
	return done
}

func ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// track records metrics and lifecycle events for one connection and returns
// the function to call when it ends.
func track(ctx context.Context, emitter EventEmitter, info ConnInfo) func(reason error) {
	observability.IncWSActive(info.Kind)
	observability.IncWSEvent(info.Kind, "ws_connect")
	if emitter != nil {
		emitter.Emit(ctx, "ws.connect", info.UserID, connEvent{ConnInfo: info, Event: "ws_connect"})
	}
	return func(reason error) {
		observability.DecWSActive(info.Kind)
		observability.IncWSEvent(info.Kind, "ws_disconnect")
		ev := connEvent{ConnInfo: info, Event: "ws_disconnect", DurationMS: time.Since(info.ConnectedAt).Milliseconds()}
		if reason != nil {
			ev.Reason = reason.Error()
			if !websocket.IsCloseError(reason, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(info.Kind, "ws_error")
			}
		}
		if emitter != nil {
			emitter.Emit(ctx, "ws.disconnect", info.UserID, ev)
		}
	}
}
