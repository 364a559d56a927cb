package store

import (
	"context"
	"database/sql"

	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/model"
)

// Ledger adapts the item and transaction tables to the custody service.
// A Ledger built with NewLedger commits each item change together with
// its log entry.
type Ledger struct {
	q  DBTX
	db *sql.DB
}

var (
	_ custody.ItemStore      = (*Ledger)(nil)
	_ custody.TransactionLog = (*Ledger)(nil)
	_ custody.Transactor     = (*Ledger)(nil)
)

// NewLedger returns a Ledger over db.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{q: db, db: db}
}

func (l *Ledger) ListItems(ctx context.Context, f model.ItemFilter) ([]model.Item, error) {
	return ListItems(ctx, l.q, f)
}

func (l *Ledger) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return GetItem(ctx, l.q, id)
}

func (l *Ledger) CreateItem(ctx context.Context, item model.Item) error {
	return CreateItem(ctx, l.q, item)
}

func (l *Ledger) UpdateItemStatus(ctx context.Context, u custody.ItemUpdate) error {
	return UpdateItemStatus(ctx, l.q, u)
}

func (l *Ledger) AppendTransaction(ctx context.Context, txn model.Transaction) error {
	return AppendTransaction(ctx, l.q, txn)
}

// WithinTx runs fn against a Ledger bound to a single transaction. A
// Ledger that is already inside a transaction reuses it.
func (l *Ledger) WithinTx(ctx context.Context, fn func(custody.ItemStore, custody.TransactionLog) error) error {
	if l.db == nil {
		return fn(l, l)
	}
	return RunInTx(ctx, l.db, func(tx DBTX) error {
		inner := &Ledger{q: tx}
		return fn(inner, inner)
	})
}
