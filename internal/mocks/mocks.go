package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"campus-market/internal/inbox"
	"campus-market/internal/models"
	"campus-market/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) Upsert(ctx context.Context, listingID int64, buyerID, sellerID string) (models.Conversation, bool, error) {
	args := m.Called(ctx, listingID, buyerID, sellerID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListByParticipant(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) ListByListing(ctx context.Context, listingID int64, excludeConversationID string) ([]models.Conversation, error) {
	args := m.Called(ctx, listingID, excludeConversationID)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, conversationID string, senderID string, text string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type ListingRepositoryMock struct {
	mock.Mock
}

func (m *ListingRepositoryMock) Get(ctx context.Context, listingID int64) (models.Listing, error) {
	args := m.Called(ctx, listingID)
	var listing models.Listing
	if val := args.Get(0); val != nil {
		listing = val.(models.Listing)
	}
	return listing, args.Error(1)
}

func (m *ListingRepositoryMock) GetSellerID(ctx context.Context, listingID int64) (string, error) {
	args := m.Called(ctx, listingID)
	return args.String(0), args.Error(1)
}

func (m *ListingRepositoryMock) MarkSold(ctx context.Context, listingID int64) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}

type ReadMarksMock struct {
	mock.Mock
}

func (m *ReadMarksMock) Get(ctx context.Context, userID string) (map[string]time.Time, error) {
	args := m.Called(ctx, userID)
	var marks map[string]time.Time
	if val := args.Get(0); val != nil {
		marks = val.(map[string]time.Time)
	}
	return marks, args.Error(1)
}

func (m *ReadMarksMock) Set(ctx context.Context, userID, conversationID string, at time.Time) error {
	args := m.Called(ctx, userID, conversationID, at)
	return args.Error(0)
}

// PublisherMock stands in for the rabbitmq and kafka publishers.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

// RoutingKeys lists the routing keys passed to Publish, in call order.
func (m *PublisherMock) RoutingKeys() []string {
	var keys []string
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			keys = append(keys, call.Arguments.String(1))
		}
	}
	return keys
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ListingRepository = (*ListingRepositoryMock)(nil)
var _ inbox.ReadMarks = (*ReadMarksMock)(nil)
