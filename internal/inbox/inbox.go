// Package inbox builds a user's conversation list with last-message previews
// and unread flags.
package inbox

import (
	"context"
	"sort"
	"time"
	"unicode/utf8"

	"campus-market/internal/models"
	"campus-market/internal/payload"
)

// PreviewLimit is the number of runes of plain text shown in a preview.
const PreviewLimit = 80

// Preview labels for structured payloads.
const (
	PreviewProposal = "Sent a confirmation request"
	PreviewAccepted = "Sale confirmed"
	PreviewDeclined = "Confirmation declined"
	PreviewItemSold = "Item has been sold"
)

// Role is the user's side of a conversation.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Summary is one row of the conversation list.
type Summary struct {
	models.ConversationSummary
	Role        Role    `json:"user_role"`
	LastMessage *string `json:"last_message"`
	Unread      bool    `json:"unread"`
}

// ConversationLister fetches the raw conversation rows for a user.
type ConversationLister interface {
	ListByParticipant(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// Model computes conversation lists.
type Model struct {
	lister ConversationLister
	marks  ReadMarks
	now    func() time.Time
}

// NewModel wires a Model.
func NewModel(lister ConversationLister, marks ReadMarks) *Model {
	return &Model{lister: lister, marks: marks, now: time.Now}
}

// List fetches and derives the user's conversation list.
func (m *Model) List(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := m.lister.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	marks, err := m.marks.Get(ctx, userID)
	if err != nil {
		// read marks are advisory; fall back to "everything unread"
		marks = map[string]time.Time{}
	}
	return Build(rows, userID, marks), nil
}

// MarkRead records that userID opened conversationID. The stored mark is
// never earlier than seen, the newest message time the user was shown.
func (m *Model) MarkRead(ctx context.Context, userID, conversationID string, seen time.Time) (time.Time, error) {
	at := m.now().UTC()
	if seen.After(at) {
		at = seen.UTC()
	}
	if err := m.marks.Set(ctx, userID, conversationID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// Build derives previews, unread flags and ordering from raw rows.
func Build(rows []models.ConversationSummary, userID string, marks map[string]time.Time) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		s := Summary{ConversationSummary: row, Role: RoleSeller}
		if row.BuyerID == userID {
			s.Role = RoleBuyer
		}
		if row.LastMessageText != nil {
			preview := Preview(payload.Decode(*row.LastMessageText))
			s.LastMessage = &preview
		}
		s.Unread = IsUnread(row, userID, marks)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out
}

// Preview maps a payload onto its short list label.
func Preview(p payload.Payload) string {
	switch p.Kind {
	case payload.KindConfirmationProposal:
		return PreviewProposal
	case payload.KindConfirmationAccepted:
		return PreviewAccepted
	case payload.KindConfirmationDeclined:
		return PreviewDeclined
	case payload.KindItemSold:
		return PreviewItemSold
	}
	return truncate(p.Text, PreviewLimit)
}

// IsUnread reports whether the last message was written by someone else after
// the user's last-read mark.
func IsUnread(row models.ConversationSummary, userID string, marks map[string]time.Time) bool {
	if row.LastMessageAt == nil || row.LastMessageSender == nil {
		return false
	}
	if *row.LastMessageSender == userID {
		return false
	}
	mark, ok := marks[row.ID]
	if !ok {
		return true
	}
	return row.LastMessageAt.After(mark)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
