package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/makhzan/internal/model"
)

// DefaultTransactionLimit caps listings that don't set a limit.
const DefaultTransactionLimit = 100

// AppendTransaction writes one entry to the custody log.
func AppendTransaction(ctx context.Context, db DBTX, txn model.Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions (id, item_id, item_name, instructor_name, type, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.ItemID, txn.ItemName, txn.InstructorName, txn.Type,
		nullString(txn.Notes), txn.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

// ListTransactions returns log entries matching f, newest first.
func ListTransactions(ctx context.Context, db DBTX, f model.TransactionFilter) ([]model.Transaction, error) {
	var where []string
	var args []any
	if f.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.InstructorName != "" {
		where = append(where, "instructor_name = ?")
		args = append(args, f.InstructorName)
	}
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, t)
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}

	query := `SELECT id, item_id, item_name, instructor_name, type, notes, created_at FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var notes sql.NullString
		if err := rows.Scan(&t.ID, &t.ItemID, &t.ItemName, &t.InstructorName, &t.Type, &notes, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t.Notes = notes.String
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
