package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"campus-market/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the append-only message store.
type MessageRepository interface {
	Create(ctx context.Context, conversationID string, senderID string, text string) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create appends a message. The store assigns id and timestamp.
func (r *MessageRepo) Create(ctx context.Context, conversationID string, senderID string, text string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, message_type, text) VALUES ($1, $2, $3, $4) RETURNING id, conversation_id, sender_id, message_type, text, created_at`, conversationID, senderID, models.StoredMessageType, text).
		StructScan(&msg)
	return msg, err
}

// ListByConversation returns messages ordered by creation time.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, conversation_id, sender_id, message_type, text, created_at FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC`, conversationID)
	return msgs, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, conversation_id, sender_id, message_type, text, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
