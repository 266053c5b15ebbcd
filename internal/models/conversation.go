package models

import "time"

// Conversation is the chat between one buyer and the seller of one listing.
type Conversation struct {
	ID        string    `db:"id" json:"conversation_id"`
	ListingID int64     `db:"listing_id" json:"listing_id"`
	BuyerID   string    `db:"buyer_id" json:"buyer_id"`
	SellerID  string    `db:"seller_id" json:"seller_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is the buyer or the seller.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// Participants returns the buyer and seller ids.
func (c Conversation) Participants() []string {
	return []string{c.BuyerID, c.SellerID}
}

// ConversationSummary is a conversation joined with its listing and its most
// recent message. Last* fields are nil when the conversation has no messages.
type ConversationSummary struct {
	Conversation
	ListingTitle      string     `db:"listing_title" json:"listing_title"`
	ListingPriceCents int64      `db:"listing_price_cents" json:"listing_price_cents"`
	ListingStatus     string     `db:"listing_status" json:"listing_status"`
	LastMessageID     *int64     `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageText   *string    `db:"last_message_text" json:"-"`
	LastMessageSender *string    `db:"last_message_sender" json:"last_message_sender_id,omitempty"`
	LastMessageAt     *time.Time `db:"last_message_at" json:"last_message_time,omitempty"`
}
