package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Timestamps are stored as Unix milliseconds so comparisons are numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	customer_id     TEXT NOT NULL,
	vendor_id       TEXT NOT NULL,
	product_id      TEXT NOT NULL DEFAULT '',
	shop_id         TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	last_message_at INTEGER,
	last_message_id TEXT,
	UNIQUE (customer_id, vendor_id, product_id, shop_id)
);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	user_id         TEXT NOT NULL,
	role            TEXT NOT NULL,
	last_read_at    INTEGER,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE INDEX IF NOT EXISTS participants_user ON participants(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	body            TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_created ON messages(conversation_id, created_at);
`

// OpenSQLite opens (creating if needed) the database file at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between our own goroutines.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply SQLite schema: %w", err)
	}
	return conn, nil
}
