package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
//
// The items CHECK ties current_holder to custody: a holder is present exactly
// when the unit is checked out or awaiting return approval.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    name          TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'instructor' CHECK (role IN ('admin', 'supervisor', 'instructor')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name_active
    ON users(name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS items (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    category         TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'available'
                     CHECK (status IN ('available', 'checked_out', 'pending_return', 'maintenance')),
    current_holder   TEXT,
    rejection_reason TEXT,
    added_by         TEXT,
    image            BLOB,
    image_mime       TEXT,
    last_updated     DATETIME NOT NULL,
    CHECK ((status IN ('checked_out', 'pending_return')) = (current_holder IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_items_kind ON items(name, category, status);
CREATE INDEX IF NOT EXISTS idx_items_holder ON items(current_holder) WHERE current_holder IS NOT NULL;

CREATE TABLE IF NOT EXISTS transactions (
    id              TEXT PRIMARY KEY,
    item_id         TEXT NOT NULL,
    item_name       TEXT NOT NULL,
    instructor_name TEXT NOT NULL,
    type            TEXT NOT NULL
                    CHECK (type IN ('add_item', 'checkout', 'return', 'return_request', 'return_rejected')),
    notes           TEXT,
    created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_item ON transactions(item_id);
CREATE INDEX IF NOT EXISTS idx_transactions_instructor ON transactions(instructor_name);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
