package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/model"
)

const itemColumns = `id, name, category, status, current_holder, rejection_reason, added_by, image_mime, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.Item, error) {
	var item model.Item
	var holder, reason, addedBy, imageMime sql.NullString
	err := row.Scan(&item.ID, &item.Name, &item.Category, &item.Status,
		&holder, &reason, &addedBy, &imageMime, &item.LastUpdated)
	if err != nil {
		return model.Item{}, err
	}
	item.CurrentHolder = holder.String
	item.RejectionReason = reason.String
	item.AddedBy = addedBy.String
	item.ImageMime = imageMime.String
	return item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateItem inserts a fully formed item. The caller assigns the id.
func CreateItem(ctx context.Context, db DBTX, item model.Item) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, name, category, status, current_holder, rejection_reason, added_by, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Category, item.Status,
		nullString(item.CurrentHolder), nullString(item.RejectionReason), nullString(item.AddedBy),
		item.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

// GetItem returns an item by ID, or nil if it does not exist.
func GetItem(ctx context.Context, db DBTX, id string) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return &item, nil
}

// ListItems returns the items matching f, ordered by id.
func ListItems(ctx context.Context, db DBTX, f model.ItemFilter) ([]model.Item, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Holder != "" {
		where = append(where, "current_holder = ?")
		args = append(args, f.Holder)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemStatus applies u only while the item still has the status,
// holder and rejection reason it was read with. It returns
// custody.ErrStale when any of them moved on and a *custody.NotFoundError
// when the item is gone.
func UpdateItemStatus(ctx context.Context, db DBTX, u custody.ItemUpdate) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET status = ?, current_holder = ?, rejection_reason = ?, last_updated = ?
		 WHERE id = ? AND status = ? AND current_holder IS ? AND rejection_reason IS ?`,
		u.Status, nullString(u.Holder), nullString(u.RejectionReason), u.At.UTC(),
		u.ID, u.From, nullString(u.FromHolder), nullString(u.FromReason),
	)
	if err != nil {
		return fmt.Errorf("updating item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item status: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE id = ?`, u.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking item: %w", err)
	}
	if exists == 0 {
		return &custody.NotFoundError{ItemID: u.ID}
	}
	return custody.ErrStale
}

// DeleteItem removes an item. Its transactions stay in the log.
func DeleteItem(ctx context.Context, db DBTX, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &custody.NotFoundError{ItemID: id}
	}
	return nil
}

// SetItemImage sets an item's condition photo.
func SetItemImage(ctx context.Context, db DBTX, id string, image []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ? WHERE id = ?`,
		image, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &custody.NotFoundError{ItemID: id}
	}
	return nil
}

// MarkItemImage records that a photo with the given MIME type exists for
// an item whose bytes live outside the database. An empty mime clears it.
func MarkItemImage(ctx context.Context, db DBTX, id, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET image_mime = ? WHERE id = ?`, nullString(mime), id,
	)
	if err != nil {
		return fmt.Errorf("marking item image: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &custody.NotFoundError{ItemID: id}
	}
	return nil
}

// ClearItemImage removes an item's stored photo.
func ClearItemImage(ctx context.Context, db DBTX, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET image = NULL, image_mime = NULL WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("clearing item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's image data and MIME type.
func GetItemImage(ctx context.Context, db DBTX, id string) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}
