package ws

import (
	"sync"
	"sync/atomic"

	"campus-market/internal/models"
	"campus-market/internal/observability"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// Subscription receives the events of one conversation or one user.
type Subscription struct {
	C <-chan models.ChatEvent

	ch     chan models.ChatEvent
	kind   string
	key    string
	lagged atomic.Bool
	closed bool
}

// Lagged reports, and clears, whether events were dropped since the last
// call because the buffer was full. Consumers must resync when it is true.
func (s *Subscription) Lagged() bool {
	return s.lagged.Swap(false)
}

// Hub is the in-process fan-out point of the message change feed.
type Hub struct {
	conversationSubs map[string]map[*Subscription]struct{}
	userSubs         map[string]map[*Subscription]struct{}
	buffer           int
	mu               sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conversationSubs: make(map[string]map[*Subscription]struct{}),
		userSubs:         make(map[string]map[*Subscription]struct{}),
		buffer:           DefaultBuffer,
	}
}

// SubscribeConversation registers a listener for one conversation.
func (h *Hub) SubscribeConversation(conversationID string) *Subscription {
	return h.subscribe(h.conversationSubs, "conversation", conversationID)
}

// SubscribeUser registers a listener for every conversation userID takes
// part in.
func (h *Hub) SubscribeUser(userID string) *Subscription {
	return h.subscribe(h.userSubs, "user", userID)
}

func (h *Hub) subscribe(rooms map[string]map[*Subscription]struct{}, kind, key string) *Subscription {
	ch := make(chan models.ChatEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, kind: kind, key: key}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := rooms[key]; !ok {
		rooms[key] = make(map[*Subscription]struct{})
	}
	rooms[key][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel. It is safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	rooms := h.conversationSubs
	if sub.kind == "user" {
		rooms = h.userSubs
	}
	if subs, ok := rooms[sub.key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(rooms, sub.key)
		}
	}
	sub.closed = true
	close(sub.ch)
}

// MessageCreated publishes a stored message to the conversation's listeners
// and to both participants.
func (h *Hub) MessageCreated(conv models.Conversation, msg models.Message) {
	h.publish(models.ChatEvent{Type: models.EventMessage, Conversation: conv, Message: &msg})
}

// ConversationStarted tells both participants a new conversation exists.
func (h *Hub) ConversationStarted(conv models.Conversation) {
	h.publish(models.ChatEvent{Type: models.EventConversation, Conversation: conv})
}

func (h *Hub) publish(event models.ChatEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make(map[*Subscription]struct{})
	if event.Type == models.EventMessage {
		for sub := range h.conversationSubs[event.Conversation.ID] {
			targets[sub] = struct{}{}
		}
	}
	for _, userID := range event.Conversation.Participants() {
		for sub := range h.userSubs[userID] {
			targets[sub] = struct{}{}
		}
	}

	for sub := range targets {
		select {
		case sub.ch <- event:
		default:
			sub.lagged.Store(true)
			observability.IncHubDropped(sub.kind)
		}
	}
}

// Resync marks every subscription lagged and nudges it with a resync
// event. It is used after the change feed may have missed notifications.
func (h *Hub) Resync() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, rooms := range []map[string]map[*Subscription]struct{}{h.conversationSubs, h.userSubs} {
		for _, subs := range rooms {
			for sub := range subs {
				sub.lagged.Store(true)
				select {
				case sub.ch <- models.ChatEvent{Type: models.EventResync}:
				default:
				}
			}
		}
	}
}

// Counts returns the number of live conversation and user subscriptions.
func (h *Hub) Counts() (conversations int, users int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.conversationSubs {
		conversations += len(subs)
	}
	for _, subs := range h.userSubs {
		users += len(subs)
	}
	return conversations, users
}
