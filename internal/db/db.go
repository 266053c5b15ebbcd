package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// MessageInsertChannel is the NOTIFY channel fired by the messages insert
// trigger.
const MessageInsertChannel = "message_inserted"

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect opens the shared Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := Open(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Open opens the pool without touching the schema.
func Open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS listings (
            id BIGSERIAL PRIMARY KEY,
            seller_id TEXT NOT NULL,
            title TEXT NOT NULL,
            price_cents BIGINT NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'sold')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY,
            listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
            buyer_id TEXT NOT NULL,
            seller_id TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(listing_id, buyer_id, seller_id)
        );`,
	`CREATE INDEX IF NOT EXISTS conversations_buyer_idx ON conversations (buyer_id);`,
	`CREATE INDEX IF NOT EXISTS conversations_seller_idx ON conversations (seller_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            message_type TEXT NOT NULL DEFAULT 'text',
            text TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at, id);`,
	`CREATE OR REPLACE FUNCTION notify_message_inserted() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + MessageInsertChannel + `', json_build_object('id', NEW.id, 'conversation_id', NEW.conversation_id)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS messages_notify_insert ON messages;`,
	`CREATE TRIGGER messages_notify_insert AFTER INSERT ON messages
        FOR EACH ROW EXECUTE FUNCTION notify_message_inserted();`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	slog.Info("database migrations applied", "statements", len(migrations))
	return nil
}
