package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-market/internal/models"
)

var t0 = time.Date(2026, 2, 14, 14, 0, 0, 0, time.UTC)

const convID = "5f1f7e0e-8c4b-4c57-9a57-3f0c1b2a9d10"

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

var convColumns = []string{"id", "listing_id", "buyer_id", "seller_id", "created_at"}

func TestUpsertReportsInsertFromXmax(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)
	query := `INSERT INTO conversations \(id, listing_id, buyer_id, seller_id\) VALUES \(\$1, \$2, \$3, \$4\)\s+` +
		`ON CONFLICT \(listing_id, buyer_id, seller_id\) DO UPDATE SET buyer_id = EXCLUDED.buyer_id\s+` +
		`RETURNING id, listing_id, buyer_id, seller_id, created_at, \(xmax = 0\) AS inserted`
	cols := append(append([]string{}, convColumns...), "inserted")

	mock.ExpectQuery(query).WithArgs(sqlmock.AnyArg(), int64(42), "buyer", "seller").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(convID, int64(42), "buyer", "seller", t0, true))
	mock.ExpectQuery(query).WithArgs(sqlmock.AnyArg(), int64(42), "buyer", "seller").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(convID, int64(42), "buyer", "seller", t0, false))

	first, created, err := repo.Upsert(context.Background(), 42, "buyer", "seller")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, convID, first.ID)

	second, created, err := repo.Upsert(context.Background(), 42, "buyer", "seller")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestConversationGet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)
	ctx := context.Background()

	_, err := repo.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	query := regexp.QuoteMeta(`SELECT id, listing_id, buyer_id, seller_id, created_at FROM conversations WHERE id=$1`)
	mock.ExpectQuery(query).WithArgs(convID).WillReturnRows(sqlmock.NewRows(convColumns))
	_, err = repo.Get(ctx, convID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListByParticipantJoinsLastMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)
	query := `(?s)LEFT JOIN listings l ON l.id = c.listing_id\s+` +
		`LEFT JOIN LATERAL \(\s*SELECT m.id, m.text, m.sender_id, m.created_at FROM messages m\s+` +
		`WHERE m.conversation_id = c.id\s+ORDER BY m.created_at DESC, m.id DESC\s+LIMIT 1\s*\) lm ON TRUE\s+` +
		`WHERE c.buyer_id=\$1 OR c.seller_id=\$1\s+ORDER BY c.created_at DESC`
	cols := append(append([]string{}, convColumns...),
		"listing_title", "listing_price_cents", "listing_status",
		"last_message_id", "last_message_text", "last_message_sender", "last_message_at")
	mock.ExpectQuery(query).WithArgs("buyer").WillReturnRows(sqlmock.NewRows(cols).
		AddRow(convID, int64(42), "buyer", "seller", t0, "Desk lamp", int64(2500), "active", int64(7), "hi", "seller", t0.Add(time.Minute)).
		AddRow("c2", int64(43), "buyer", "seller2", t0, "Chair", int64(900), "sold", nil, nil, nil, nil))

	rows, err := repo.ListByParticipant(context.Background(), "buyer")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NotNil(t, rows[0].LastMessageID)
	assert.Equal(t, int64(7), *rows[0].LastMessageID)
	assert.Equal(t, "hi", *rows[0].LastMessageText)
	assert.Equal(t, "seller", *rows[0].LastMessageSender)
	assert.Equal(t, "Desk lamp", rows[0].ListingTitle)

	assert.Nil(t, rows[1].LastMessageID)
	assert.Nil(t, rows[1].LastMessageAt)
	assert.Equal(t, "sold", rows[1].ListingStatus)
}

func TestListByListingExcludes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE listing_id=$1 AND id<>$2 ORDER BY created_at ASC`)).
		WithArgs(int64(42), convID).
		WillReturnRows(sqlmock.NewRows(convColumns).AddRow("c2", int64(42), "buyer2", "seller", t0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE listing_id=$1 ORDER BY created_at ASC`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(convColumns))

	others, err := repo.ListByListing(context.Background(), 42, convID)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "c2", others[0].ID)

	all, err := repo.ListByListing(context.Background(), 42, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMarkSoldIsCompareAndSwap(t *testing.T) {
	update := regexp.QuoteMeta(`UPDATE listings SET status='sold' WHERE id=$1 AND status='active'`)
	exists := regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM listings WHERE id=$1)`)

	t.Run("active", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, NewListingRepo(db).MarkSold(context.Background(), 42))
	})

	t.Run("already sold", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs(int64(42)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, NewListingRepo(db).MarkSold(context.Background(), 42), ErrListingNotActive)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WithArgs(int64(99)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, NewListingRepo(db).MarkSold(context.Background(), 99), ErrListingNotFound)
	})
}

func TestListingGetSellerIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seller_id FROM listings WHERE id=$1`)).
		WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows([]string{"seller_id"}))

	_, err := NewListingRepo(db).GetSellerID(context.Background(), 5)
	assert.ErrorIs(t, err, ErrListingNotFound)
}

var messageColumns = []string{"id", "conversation_id", "sender_id", "message_type", "text", "created_at"}

func TestMessageCreateAndList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages (conversation_id, sender_id, message_type, text) VALUES ($1, $2, $3, $4) RETURNING id, conversation_id, sender_id, message_type, text, created_at`)).
		WithArgs(convID, "buyer", models.StoredMessageType, "hello").
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow(int64(1), convID, "buyer", "text", "hello", t0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC`)).
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows(messageColumns).AddRow(int64(1), convID, "buyer", "text", "hello", t0))

	msg, err := repo.Create(ctx, convID, "buyer", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)
	assert.True(t, msg.CreatedAt.Equal(t0))

	msgs, err := repo.ListByConversation(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg, msgs[0])
}

func TestMessageGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE id=$1`)).
		WithArgs(int64(3)).WillReturnRows(sqlmock.NewRows(messageColumns))

	_, err := NewMessageRepo(db).Get(context.Background(), 3)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestAdvisoryLockerLocksAndUnlocks(t *testing.T) {
	db, mock := newMockDB(t)
	key := "conversation:" + convID
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock(hashtext($1))`)).WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock(hashtext($1))`)).WithArgs(key).
		WillReturnResult(sqlmock.NewResult(0, 1))

	unlock, err := NewAdvisoryLocker(db).Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}

func TestAdvisoryLockerError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock(hashtext($1))`)).WithArgs("k").
		WillReturnError(errors.New("canceling statement due to lock timeout"))

	unlock, err := NewAdvisoryLocker(db).Lock(context.Background(), "k")
	assert.Error(t, err)
	assert.Nil(t, unlock)
}
