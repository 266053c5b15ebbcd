// Package feed turns Postgres insert notifications into hub events so that
// every instance of the service sees messages written by any other.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"campus-market/internal/db"
	"campus-market/internal/models"
)

const (
	minReconnect = 200 * time.Millisecond
	maxReconnect = 30 * time.Second
	pingInterval = 90 * time.Second
)

// Sink receives decoded change-feed events.
type Sink interface {
	MessageCreated(conv models.Conversation, msg models.Message)
	Resync()
}

type MessageGetter interface {
	Get(ctx context.Context, messageID int64) (models.Message, error)
}

type ConversationGetter interface {
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
}

// notification is the JSON body sent by the notify_message_inserted trigger.
type notification struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// PGListener consumes LISTEN message_inserted.
type PGListener struct {
	dsn           string
	messages      MessageGetter
	conversations ConversationGetter
	sink          Sink
	logger        *slog.Logger

	mu    sync.Mutex
	convs map[string]models.Conversation
}

func NewPGListener(dsn string, messages MessageGetter, conversations ConversationGetter, sink Sink, logger *slog.Logger) *PGListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{
		dsn:           dsn,
		messages:      messages,
		conversations: conversations,
		sink:          sink,
		logger:        logger,
		convs:         make(map[string]models.Conversation),
	}
}

// Run listens until ctx is done. Dropped connections are re-established by
// pq with exponential back-off; after each reconnect subscribers are told to
// resync because notifications sent meanwhile are lost.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("change feed connect failed", "err", err)
		case pq.ListenerEventDisconnected:
			l.logger.Warn("change feed disconnected", "err", err)
		case pq.ListenerEventReconnected:
			l.logger.Info("change feed reconnected")
		}
	})
	defer listener.Close()

	if err := listener.Listen(db.MessageInsertChannel); err != nil {
		return fmt.Errorf("listen %s: %w", db.MessageInsertChannel, err)
	}
	l.logger.Info("change feed listening", "channel", db.MessageInsertChannel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.sink.Resync()
				continue
			}
			if err := l.Dispatch(ctx, n.Extra); err != nil {
				l.logger.Warn("change feed dispatch failed", "payload", n.Extra, "err", err)
			}
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("change feed ping failed", "err", err)
				}
			}()
		}
	}
}

// Dispatch loads the row named by one notification and hands it to the sink.
func (l *PGListener) Dispatch(ctx context.Context, raw string) error {
	var n notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	msg, err := l.messages.Get(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("load message %d: %w", n.ID, err)
	}
	conv, err := l.conversation(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", msg.ConversationID, err)
	}
	l.sink.MessageCreated(conv, msg)
	return nil
}

// conversation caches lookups; conversations never change once created.
func (l *PGListener) conversation(ctx context.Context, id string) (models.Conversation, error) {
	l.mu.Lock()
	conv, ok := l.convs[id]
	l.mu.Unlock()
	if ok {
		return conv, nil
	}
	conv, err := l.conversations.Get(ctx, id)
	if err != nil {
		return models.Conversation{}, err
	}
	l.mu.Lock()
	l.convs[id] = conv
	l.mu.Unlock()
	return conv, nil
}
