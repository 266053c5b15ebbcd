// Package timeline derives the rendered view of one conversation from its raw
// message stream.
//
// A View holds the messages received so far, from the initial fetch and from
// realtime inserts, in whatever order they arrived. Every read re-sorts them
// by server timestamp and recomputes proposal state, so a response that
// arrives before its proposal still links up once both are present.
package timeline

import (
	"context"
	"sort"
	"sync"

	"campus-market/internal/models"
	"campus-market/internal/payload"
)

// Resolution is the state of a proposal.
type Resolution string

const (
	Pending  Resolution = "pending"
	Accepted Resolution = "accepted"
	Declined Resolution = "declined"
)

// Item is one rendered message.
type Item struct {
	models.Message
	Payload payload.Payload `json:"payload"`

	// Resolution and ResolvedBy are set on proposals only.
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedBy int64      `json:"resolved_by,omitempty"`
}

// MessageLister fetches a conversation's messages from the store.
type MessageLister interface {
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
}

// View is the client-side state of one conversation. It is safe for
// concurrent use.
type View struct {
	conversationID string

	mu       sync.RWMutex
	messages map[int64]models.Message
}

// New returns an empty view for conversationID.
func New(conversationID string) *View {
	return &View{conversationID: conversationID, messages: make(map[int64]models.Message)}
}

// FromMessages builds a view over an already fetched batch.
func FromMessages(conversationID string, msgs []models.Message) *View {
	v := New(conversationID)
	v.Load(msgs)
	return v
}

// ConversationID returns the conversation this view renders.
func (v *View) ConversationID() string {
	return v.conversationID
}

// Load replaces the local set with a fetched batch.
func (v *View) Load(msgs []models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = make(map[int64]models.Message, len(msgs))
	for _, m := range msgs {
		if m.ConversationID == v.conversationID {
			v.messages[m.ID] = m
		}
	}
}

// Sync re-fetches the whole conversation.
func (v *View) Sync(ctx context.Context, lister MessageLister) error {
	msgs, err := lister.ListByConversation(ctx, v.conversationID)
	if err != nil {
		return err
	}
	v.Load(msgs)
	return nil
}

// Ingest adds one realtime message. It reports false for messages of other
// conversations and for duplicates.
func (v *View) Ingest(msg models.Message) bool {
	if msg.ConversationID != v.conversationID {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.messages[msg.ID]; ok {
		return false
	}
	v.messages[msg.ID] = msg
	return true
}

// Len returns the number of messages held.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.messages)
}

// Items returns the rendered timeline in server order.
func (v *View) Items() []Item {
	items := v.decoded()
	resolutions := resolve(items)
	for i := range items {
		if items[i].Payload.Kind != payload.KindConfirmationProposal {
			continue
		}
		if r, ok := resolutions[items[i].ID]; ok {
			items[i].Resolution = r.state
			items[i].ResolvedBy = r.by
		} else {
			items[i].Resolution = Pending
		}
	}
	return items
}

// Item returns the rendered form of one message.
func (v *View) Item(messageID int64) (Item, bool) {
	for _, it := range v.Items() {
		if it.ID == messageID {
			return it, true
		}
	}
	return Item{}, false
}

// Resolution reports the state of a proposal and the id of the message that
// resolved it. ok is false when proposalID is not a proposal in this view.
func (v *View) Resolution(proposalID int64) (state Resolution, resolvedBy int64, ok bool) {
	it, found := v.Item(proposalID)
	if !found || it.Payload.Kind != payload.KindConfirmationProposal {
		return "", 0, false
	}
	return it.Resolution, it.ResolvedBy, true
}

// Frozen reports whether the conversation accepts no more plain messages or
// proposals: it holds a sale notice or an accepted confirmation.
func (v *View) Frozen() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, m := range v.messages {
		if payload.Decode(m.Text).Freezes() {
			return true
		}
	}
	return false
}

// Last returns the newest message in server order.
func (v *View) Last() (Item, bool) {
	items := v.decoded()
	if len(items) == 0 {
		return Item{}, false
	}
	return items[len(items)-1], true
}

func (v *View) decoded() []Item {
	v.mu.RLock()
	items := make([]Item, 0, len(v.messages))
	for _, m := range v.messages {
		items = append(items, Item{Message: m})
	}
	v.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Before(items[j].Message) })
	for i := range items {
		items[i].Payload = payload.Decode(items[i].Text)
	}
	return items
}

type resolution struct {
	state Resolution
	by    int64
}

// resolve maps proposal ids to their first terminal response in timeline
// order. Later responses to the same proposal are ignored.
func resolve(items []Item) map[int64]resolution {
	out := make(map[int64]resolution)
	for _, it := range items {
		if !it.Payload.IsTerminal() {
			continue
		}
		if _, done := out[it.Payload.ResponseTo]; done {
			continue
		}
		state := Declined
		if it.Payload.Kind == payload.KindConfirmationAccepted {
			state = Accepted
		}
		out[it.Payload.ResponseTo] = resolution{state: state, by: it.ID}
	}
	return out
}
