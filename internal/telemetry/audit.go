package telemetry

import (
	"context"
	"log/slog"
	"time"

	"campus-market/internal/observability"
)

// Domain and audit event types. They double as routing keys.
const (
	EventListingSold          = "listing.sold"
	EventConfirmationProposed = "confirmation.proposed"
	EventConfirmationAccepted = "confirmation.accepted"
	EventConfirmationDeclined = "confirmation.declined"
	EventConversationStarted  = "conversation.started"
	EventAuditLog             = "audit_log"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	service     string
	environment string
	logger      *slog.Logger
}

type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id,omitempty"`
	TraceID       string  `json:"trace_id,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	Payload       any     `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// ProposalPayload describes a new confirmation request.
type ProposalPayload struct {
	ConversationID string `json:"conversation_id"`
	ListingID      int64  `json:"listing_id"`
	MessageID      int64  `json:"message_id"`
	Date           string `json:"date"`
	Location       string `json:"location"`
	Price          string `json:"price"`
}

// ResponsePayload describes an accepted or declined confirmation.
type ResponsePayload struct {
	ConversationID string `json:"conversation_id"`
	ListingID      int64  `json:"listing_id"`
	ProposalID     int64  `json:"proposal_id"`
	ResponseID     int64  `json:"response_id"`
}

// SalePayload describes a listing that has been sold through chat.
type SalePayload struct {
	ListingID             int64  `json:"listing_id"`
	ConversationID        string `json:"conversation_id"`
	BuyerID               string `json:"buyer_id"`
	SellerID              string `json:"seller_id"`
	Date                  string `json:"date"`
	Location              string `json:"location"`
	Price                 string `json:"price"`
	NotifiedConversations int    `json:"notified_conversations"`
	FanoutFailures        int    `json:"fanout_failures"`
}

func NewAuditEmitter(publisher Publisher, service, environment string, logger *slog.Logger) *AuditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one event. Publishing is best effort: failures are logged
// and never reach the caller.
func (e *AuditEmitter) Emit(ctx context.Context, eventType string, userID string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     observability.RequestIDFromContext(ctx),
		TraceID:       observability.TraceID(ctx),
		Payload:       payload,
	}
	if userID != "" {
		envelope.UserID = &userID
	}

	e.logger.Debug("event emit", "event_type", eventType, "request_id", envelope.RequestID)
	if err := e.publisher.Publish(ctx, eventType, envelope); err != nil {
		e.logger.Warn("event publish failed", "event_type", eventType, "err", err)
	}
}

// Audit publishes a free-form audit log line.
func (e *AuditEmitter) Audit(ctx context.Context, level, text, userID string) {
	e.Emit(ctx, EventAuditLog, userID, AuditPayload{Level: level, Text: text})
}
