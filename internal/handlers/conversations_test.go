package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"campus-market/internal/chat"
	"campus-market/internal/inbox"
	"campus-market/internal/middleware"
	"campus-market/internal/mocks"
	"campus-market/internal/models"
	"campus-market/internal/payload"
	"campus-market/internal/repositories"
)

const (
	convID   = "5f0c6f0e-8a4b-4e55-9a57-0b7a3c2d1e10"
	buyerID  = "buyer-1"
	sellerID = "seller-1"
)

var (
	testConv = models.Conversation{ID: convID, ListingID: 42, BuyerID: buyerID, SellerID: sellerID}
	t0       = time.Date(2026, 2, 14, 14, 0, 0, 0, time.UTC)
)

type testDeps struct {
	convs    *mocks.ConversationRepositoryMock
	msgs     *mocks.MessageRepositoryMock
	listings *mocks.ListingRepositoryMock
	marks    *mocks.ReadMarksMock
}

func (d testDeps) assertExpectations(t *testing.T) {
	d.convs.AssertExpectations(t)
	d.msgs.AssertExpectations(t)
	d.listings.AssertExpectations(t)
	d.marks.AssertExpectations(t)
}

func setupRouter() (*gin.Engine, testDeps) {
	gin.SetMode(gin.TestMode)
	d := testDeps{
		convs:    new(mocks.ConversationRepositoryMock),
		msgs:     new(mocks.MessageRepositoryMock),
		listings: new(mocks.ListingRepositoryMock),
		marks:    new(mocks.ReadMarksMock),
	}
	engine := chat.NewService(d.convs, d.msgs, d.listings, chat.Options{})
	handler := NewConversationHandler(engine, inbox.NewModel(d.convs, d.marks), nil)

	r := gin.New()
	r.Use(middleware.RequestID())
	handler.Register(r.Group("/", middleware.Identity()))
	return r, d
}

func do(r *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, user)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func stored(id int64, sender string, p payload.Payload, offset int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		MessageType:    models.StoredMessageType,
		Text:           payload.Encode(p),
		CreatedAt:      t0.Add(time.Duration(offset) * time.Second),
	}
}

func TestStartConversationCreated(t *testing.T) {
	r, d := setupRouter()
	d.listings.On("GetSellerID", mock.Anything, int64(42)).Return(sellerID, nil).Once()
	d.convs.On("Upsert", mock.Anything, int64(42), buyerID, sellerID).Return(testConv, true, nil).Once()

	rec := do(r, http.MethodPost, "/conversations", buyerID, `{"listing_id":42}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["created"])
	d.assertExpectations(t)
}

func TestStartConversationRejectsMissingListing(t *testing.T) {
	r, d := setupRouter()

	rec := do(r, http.MethodPost, "/conversations", buyerID, `{}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
	d.assertExpectations(t)
}

func TestStartConversationOwnListing(t *testing.T) {
	r, d := setupRouter()
	d.listings.On("GetSellerID", mock.Anything, int64(42)).Return(sellerID, nil).Once()

	rec := do(r, http.MethodPost, "/conversations", sellerID, `{"listing_id":42}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	d.convs.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListConversationsWithPreviewAndUnread(t *testing.T) {
	r, d := setupRouter()
	last := t0.Add(time.Minute)
	text := payload.Encode(payload.Accepted(3, "Sat", "Gates Lobby", "$25.00"))
	sender := sellerID
	row := models.ConversationSummary{
		Conversation:      testConv,
		ListingTitle:      "Desk lamp",
		LastMessageText:   &text,
		LastMessageSender: &sender,
		LastMessageAt:     &last,
	}
	d.convs.On("ListByParticipant", mock.Anything, buyerID).Return([]models.ConversationSummary{row}, nil).Once()
	d.marks.On("Get", mock.Anything, buyerID).Return(map[string]time.Time{convID: t0}, nil).Once()

	rec := do(r, http.MethodGet, "/conversations", buyerID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	list := resp["conversations"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, inbox.PreviewAccepted, first["last_message"])
	assert.Equal(t, true, first["unread"])
	assert.Equal(t, "buyer", first["user_role"])
	d.assertExpectations(t)
}

func TestListConversationsStoreDown(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("ListByParticipant", mock.Anything, buyerID).Return(nil, assert.AnError).Once()

	rec := do(r, http.MethodGet, "/conversations", buyerID, "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CONNECTIVITY_ERROR", decode(t, rec)["code"])
}

func TestPostMessageEmptyTextWritesNothing(t *testing.T) {
	r, d := setupRouter()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/messages", buyerID, `{"text":"   "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "VALIDATION_ERROR", resp["code"])
	d.msgs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageSuccess(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()
	d.msgs.On("ListByConversation", mock.Anything, convID).Return([]models.Message{}, nil).Once()
	d.listings.On("Get", mock.Anything, int64(42)).Return(models.Listing{ID: 42, Status: models.ListingActive}, nil).Once()
	d.msgs.On("Create", mock.Anything, convID, buyerID, "hello").Return(stored(1, buyerID, payload.Plain("hello"), 0), nil).Once()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/messages", buyerID, `{"text":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "plain", resp["payload"].(map[string]any)["kind"])
	d.assertExpectations(t)
}

func TestPostMessageForbiddenForStranger(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/messages", "stranger", `{"text":"hi"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec)["code"])
}

func TestProposeZeroPrice(t *testing.T) {
	r, d := setupRouter()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/confirmations", buyerID,
		`{"date":"Sat","location":"Gates Lobby","price":"0.00"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	d.msgs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRespondAcceptFansOut(t *testing.T) {
	r, d := setupRouter()
	other := models.Conversation{ID: "other", ListingID: 42, BuyerID: "buyer-2", SellerID: sellerID}
	proposal := stored(10, buyerID, payload.Proposal("Sat, Feb 14, 2026 at 2:30 PM", "Gates Lobby", "$25.00"), 0)
	accepted := stored(11, sellerID, payload.Accepted(10, "Sat, Feb 14, 2026 at 2:30 PM", "Gates Lobby", "$25.00"), 1)

	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()
	d.msgs.On("ListByConversation", mock.Anything, convID).Return([]models.Message{proposal}, nil).Once()
	d.listings.On("MarkSold", mock.Anything, int64(42)).Return(nil).Once()
	d.msgs.On("Create", mock.Anything, convID, sellerID, accepted.Text).Return(accepted, nil).Once()
	d.convs.On("ListByListing", mock.Anything, int64(42), convID).Return([]models.Conversation{other}, nil).Once()
	d.msgs.On("Create", mock.Anything, "other", models.SystemSenderID, payload.Encode(payload.ItemSold())).
		Return(models.Message{ID: 12, ConversationID: "other", SenderID: models.SystemSenderID}, nil).Once()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/confirmations/10/response", sellerID, `{"decision":"accept"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "accept", resp["decision"])
	assert.Equal(t, float64(1), resp["notified_conversations"])
	assert.Equal(t, float64(0), resp["fanout_failures"])
	d.assertExpectations(t)
}

func TestRespondAlreadyResolved(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()
	d.msgs.On("ListByConversation", mock.Anything, convID).Return([]models.Message{
		stored(10, buyerID, payload.Proposal("Sat", "Gates Lobby", "$25.00"), 0),
		stored(11, sellerID, payload.Declined(10), 1),
	}, nil).Once()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/confirmations/10/response", sellerID, `{"decision":"accept"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RESOLVED", decode(t, rec)["code"])
	d.listings.AssertNotCalled(t, "MarkSold", mock.Anything, mock.Anything)
}

func TestRespondBadInput(t *testing.T) {
	r, _ := setupRouter()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/confirmations/abc/response", sellerID, `{"decision":"accept"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/conversations/"+convID+"/confirmations/10/response", sellerID, `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTimelineMarksRead(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()
	d.msgs.On("ListByConversation", mock.Anything, convID).Return([]models.Message{
		stored(2, sellerID, payload.Declined(1), 5),
		stored(1, buyerID, payload.Proposal("Sat", "Gates Lobby", "$25.00"), 1),
	}, nil).Once()
	d.marks.On("Set", mock.Anything, buyerID, convID, mock.AnythingOfType("time.Time")).Return(nil).Once()

	rec := do(r, http.MethodGet, "/conversations/"+convID+"/timeline", buyerID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, false, resp["frozen"])
	items := resp["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, float64(1), first["message_id"])
	assert.Equal(t, "declined", first["resolution"])
	d.assertExpectations(t)
}

func TestGetMessagesStoreDown(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()
	d.msgs.On("ListByConversation", mock.Anything, convID).Return(nil, assert.AnError).Once()

	rec := do(r, http.MethodGet, "/conversations/"+convID+"/messages", buyerID, "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CONNECTIVITY_ERROR", decode(t, rec)["code"])
}

func TestMarkReadUnknownConversation(t *testing.T) {
	r, d := setupRouter()
	d.convs.On("Get", mock.Anything, convID).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/read", buyerID, "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	d.marks.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadWithSeenAt(t *testing.T) {
	r, d := setupRouter()
	future := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	d.convs.On("Get", mock.Anything, convID).Return(testConv, nil).Once()
	d.marks.On("Set", mock.Anything, buyerID, convID, mock.MatchedBy(func(at time.Time) bool { return at.Equal(future) })).Return(nil).Once()

	rec := do(r, http.MethodPost, "/conversations/"+convID+"/read", buyerID, `{"seen_at":"`+future.Format(time.RFC3339)+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	d.assertExpectations(t)
}

func TestMissingIdentity(t *testing.T) {
	r, _ := setupRouter()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
