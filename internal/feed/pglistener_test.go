package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-market/internal/mocks"
	"campus-market/internal/models"
	"campus-market/internal/repositories"
)

type sinkStub struct {
	events  []models.ChatEvent
	resyncs int
}

func (s *sinkStub) MessageCreated(conv models.Conversation, msg models.Message) {
	s.events = append(s.events, models.ChatEvent{Type: models.EventMessage, Conversation: conv, Message: &msg})
}

func (s *sinkStub) Resync() { s.resyncs++ }

func TestDispatchLoadsMessageAndCachesConversation(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	convRepo := new(mocks.ConversationRepositoryMock)
	sink := &sinkStub{}
	l := NewPGListener("", msgRepo, convRepo, sink, nil)

	conv := models.Conversation{ID: "c1", BuyerID: "b", SellerID: "s"}
	msgRepo.On("Get", mock.Anything, int64(7)).Return(models.Message{ID: 7, ConversationID: "c1"}, nil)
	msgRepo.On("Get", mock.Anything, int64(8)).Return(models.Message{ID: 8, ConversationID: "c1"}, nil)
	convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()

	require.NoError(t, l.Dispatch(context.Background(), `{"id":7,"conversation_id":"c1"}`))
	require.NoError(t, l.Dispatch(context.Background(), `{"id":8,"conversation_id":"c1"}`))

	require.Len(t, sink.events, 2)
	assert.Equal(t, int64(8), sink.events[1].Message.ID)
	assert.Equal(t, conv, sink.events[1].Conversation)
	convRepo.AssertExpectations(t)
}

func TestDispatchErrors(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	convRepo := new(mocks.ConversationRepositoryMock)
	sink := &sinkStub{}
	l := NewPGListener("", msgRepo, convRepo, sink, nil)

	assert.Error(t, l.Dispatch(context.Background(), "not json"))

	msgRepo.On("Get", mock.Anything, int64(9)).Return(models.Message{}, repositories.ErrMessageNotFound)
	err := l.Dispatch(context.Background(), `{"id":9,"conversation_id":"c1"}`)
	assert.ErrorIs(t, err, repositories.ErrMessageNotFound)
	assert.Empty(t, sink.events)
}
