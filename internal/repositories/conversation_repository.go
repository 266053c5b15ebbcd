package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campus-market/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository is the conversation registry.
type ConversationRepository interface {
	// Upsert returns the conversation for the triple, creating it on first
	// contact. created reports whether this call inserted it.
	Upsert(ctx context.Context, listingID int64, buyerID, sellerID string) (conv models.Conversation, created bool, err error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	// ListByListing returns the listing's conversations, skipping
	// excludeConversationID when it is not empty.
	ListByListing(ctx context.Context, listingID int64, excludeConversationID string) ([]models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Upsert relies on the (listing_id, buyer_id, seller_id) unique constraint.
// The no-op update makes RETURNING yield the existing row on conflict, and
// xmax = 0 only holds for a freshly inserted tuple.
func (r *ConversationRepo) Upsert(ctx context.Context, listingID int64, buyerID, sellerID string) (models.Conversation, bool, error) {
	var row struct {
		models.Conversation
		Inserted bool `db:"inserted"`
	}
	query := `INSERT INTO conversations (id, listing_id, buyer_id, seller_id) VALUES ($1, $2, $3, $4)
        ON CONFLICT (listing_id, buyer_id, seller_id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id
        RETURNING id, listing_id, buyer_id, seller_id, created_at, (xmax = 0) AS inserted`
	if err := r.db.GetContext(ctx, &row, query, uuid.NewString(), listingID, buyerID, sellerID); err != nil {
		return models.Conversation{}, false, err
	}
	return row.Conversation, row.Inserted, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return models.Conversation{}, ErrConversationNotFound
	}
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, listing_id, buyer_id, seller_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListByParticipant returns the user's conversations joined with their
// listing and most recent message.
func (r *ConversationRepo) ListByParticipant(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.listing_id, c.buyer_id, c.seller_id, c.created_at,
            COALESCE(l.title, 'Untitled Listing') AS listing_title,
            COALESCE(l.price_cents, 0) AS listing_price_cents,
            COALESCE(l.status, 'active') AS listing_status,
            lm.id AS last_message_id,
            lm.text AS last_message_text,
            lm.sender_id AS last_message_sender,
            lm.created_at AS last_message_at
        FROM conversations c
        LEFT JOIN listings l ON l.id = c.listing_id
        LEFT JOIN LATERAL (
            SELECT m.id, m.text, m.sender_id, m.created_at FROM messages m
            WHERE m.conversation_id = c.id
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT 1
        ) lm ON TRUE
        WHERE c.buyer_id=$1 OR c.seller_id=$1
        ORDER BY c.created_at DESC`
	result := []models.ConversationSummary{}
	err := r.db.SelectContext(ctx, &result, query, userID)
	return result, err
}

// ListByListing returns the conversations attached to a listing.
func (r *ConversationRepo) ListByListing(ctx context.Context, listingID int64, excludeConversationID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	if excludeConversationID == "" {
		err := r.db.SelectContext(ctx, &convs, `SELECT id, listing_id, buyer_id, seller_id, created_at FROM conversations WHERE listing_id=$1 ORDER BY created_at ASC`, listingID)
		return convs, err
	}
	err := r.db.SelectContext(ctx, &convs, `SELECT id, listing_id, buyer_id, seller_id, created_at FROM conversations WHERE listing_id=$1 AND id<>$2 ORDER BY created_at ASC`, listingID, excludeConversationID)
	return convs, err
}
