package store

import (
	"context"
	"fmt"

	"github.com/erazemk/makhzan/internal/model"
)

// ListHoldings returns how many units of each kind every holder has,
// split by status. Items on the shelf are not included.
func ListHoldings(ctx context.Context, db DBTX) ([]model.Holding, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT current_holder, name, category, status, COUNT(*)
		 FROM items
		 WHERE current_holder IS NOT NULL
		 GROUP BY current_holder, name, category, status
		 ORDER BY current_holder, name, category, status`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing holdings: %w", err)
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.Holder, &h.Name, &h.Category, &h.Status, &h.Count); err != nil {
			return nil, fmt.Errorf("scanning holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}
