package models

import "time"

// SystemSenderID authors messages nobody typed, such as sale notices.
const SystemSenderID = "system"

// StoredMessageType is the only message_type the store knows. Structured
// payloads live inside Text.
const StoredMessageType = "text"

// Message is a stored chat message.
type Message struct {
	ID             int64     `db:"id" json:"message_id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"user"`
	MessageType    string    `db:"message_type" json:"message_type"`
	Text           string    `db:"text" json:"text"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Before orders messages by server timestamp, then id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Event kinds pushed through the realtime hub.
const (
	EventMessage      = "message"
	EventConversation = "conversation"
	// EventResync tells a subscriber its local state may be stale.
	EventResync       = "resync"
)

// ChatEvent is fanned out by the hub to realtime subscribers.
type ChatEvent struct {
	Type         string       `json:"type"`
	Conversation Conversation `json:"conversation"`
	Message      *Message     `json:"message,omitempty"`
}
