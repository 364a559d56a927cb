// Package photos stores item condition photos, either inside the SQLite
// database or in an S3-compatible bucket.
package photos

import (
	"context"
	"database/sql"

	"github.com/erazemk/makhzan/internal/store"
)

// Store keeps one photo per item.
type Store interface {
	Put(ctx context.Context, itemID string, data []byte, mime string) error
	// Get returns nil data when the item has no photo.
	Get(ctx context.Context, itemID string) ([]byte, string, error)
	Delete(ctx context.Context, itemID string) error
}

// DB keeps photos in the items table.
type DB struct {
	db *sql.DB
}

// NewDB returns a Store backed by the items table.
func NewDB(db *sql.DB) *DB {
	return &DB{db: db}
}

func (d *DB) Put(ctx context.Context, itemID string, data []byte, mime string) error {
	return store.SetItemImage(ctx, d.db, itemID, data, mime)
}

func (d *DB) Get(ctx context.Context, itemID string) ([]byte, string, error) {
	return store.GetItemImage(ctx, d.db, itemID)
}

func (d *DB) Delete(ctx context.Context, itemID string) error {
	return store.ClearItemImage(ctx, d.db, itemID)
}
