package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/payload"
	"campus-market/internal/repositories"
)

// memStore is an in-memory stand-in for the three Postgres repositories.
type memStore struct {
	mu            sync.Mutex
	listings      map[int64]models.Listing
	conversations []models.Conversation
	messages      []models.Message
	nextMsgID     int64
	nextConvID    int
	clock         time.Time

	failCreate      map[string]error
	failMarkSold    error
	failListListing error
	listCalls       int
}

func newMemStore() *memStore {
	return &memStore{
		listings:   map[int64]models.Listing{},
		failCreate: map[string]error{},
		clock:      time.Date(2026, 2, 14, 14, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) addListing(id int64, sellerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[id] = models.Listing{ID: id, SellerID: sellerID, Title: "Desk lamp", PriceCents: 2500, Status: models.ListingActive}
}

func (s *memStore) listing(id int64) models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[id]
}

// sellElsewhere marks a listing sold outside the engine.
func (s *memStore) sellElsewhere(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listings[id]
	l.Status = models.ListingSold
	s.listings[id] = l
}

func (s *memStore) messagesIn(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) countKind(conversationID string, kind payload.Kind) int {
	n := 0
	for _, m := range s.messagesIn(conversationID) {
		if payload.Decode(m.Text).Kind == kind {
			n++
		}
	}
	return n
}

type fakeConversations struct{ *memStore }

func (f fakeConversations) Upsert(_ context.Context, listingID int64, buyerID, sellerID string) (models.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.ListingID == listingID && c.BuyerID == buyerID && c.SellerID == sellerID {
			return c, false, nil
		}
	}
	f.nextConvID++
	c := models.Conversation{
		ID:        fmt.Sprintf("conv-%d", f.nextConvID),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		CreatedAt: f.clock,
	}
	f.conversations = append(f.conversations, c)
	return c, true, nil
}

func (f fakeConversations) Get(_ context.Context, id string) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Conversation{}, repositories.ErrConversationNotFound
}

func (f fakeConversations) ListByParticipant(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ConversationSummary
	for _, c := range f.conversations {
		if c.HasParticipant(userID) {
			out = append(out, models.ConversationSummary{Conversation: c})
		}
	}
	return out, nil
}

func (f fakeConversations) ListByListing(_ context.Context, listingID int64, exclude string) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListListing != nil {
		return nil, f.failListListing
	}
	var out []models.Conversation
	for _, c := range f.conversations {
		if c.ListingID == listingID && c.ID != exclude {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeMessages struct{ *memStore }

func (f fakeMessages) Create(_ context.Context, conversationID, senderID, text string) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[conversationID]; err != nil {
		return models.Message{}, err
	}
	f.nextMsgID++
	f.clock = f.clock.Add(time.Second)
	m := models.Message{
		ID:             f.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageType:    models.StoredMessageType,
		Text:           text,
		CreatedAt:      f.clock,
	}
	f.messages = append(f.messages, m)
	return m, nil
}

func (f fakeMessages) ListByConversation(_ context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	out := f.messagesIn(conversationID)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f fakeMessages) Get(_ context.Context, id int64) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

type fakeListings struct{ *memStore }

func (f fakeListings) Get(_ context.Context, id int64) (models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return models.Listing{}, repositories.ErrListingNotFound
	}
	return l, nil
}

func (f fakeListings) GetSellerID(ctx context.Context, id int64) (string, error) {
	l, err := f.Get(ctx, id)
	return l.SellerID, err
}

func (f fakeListings) MarkSold(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkSold != nil {
		return f.failMarkSold
	}
	l, ok := f.listings[id]
	if !ok {
		return repositories.ErrListingNotFound
	}
	if l.Status != models.ListingActive {
		return repositories.ErrListingNotActive
	}
	l.Status = models.ListingSold
	f.listings[id] = l
	return nil
}

// recorder captures notifier calls and emitted events.
type recorder struct {
	mu       sync.Mutex
	messages []models.Message
	started  []models.Conversation
	events   []string
}

func (r *recorder) MessageCreated(_ models.Conversation, msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) ConversationStarted(conv models.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, conv)
}

func (r *recorder) Emit(_ context.Context, eventType string, _ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

var (
	_ repositories.ConversationRepository = fakeConversations{}
	_ repositories.MessageRepository      = fakeMessages{}
	_ repositories.ListingRepository      = fakeListings{}
)
