package store

import (
	"context"
	"database/sql"
	"fmt"
)

const settingRosterSeeded = "roster_seeded"

// RosterEntry is an account to create on first start.
type RosterEntry struct {
	Name         string
	Role         string
	PasswordHash string
}

// SeedRoster creates the given accounts once. Later calls are no-ops even
// if seeded accounts were deleted since, so removals stick. Names that
// already exist are skipped. It returns the number of accounts created.
func SeedRoster(ctx context.Context, db *sql.DB, entries []RosterEntry) (int, error) {
	created := 0
	err := RunInTx(ctx, db, func(tx DBTX) error {
		_, done, err := GetSetting(ctx, tx, settingRosterSeeded)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		for _, e := range entries {
			existing, err := GetUserByName(ctx, tx, e.Name)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if _, err := CreateUser(ctx, tx, e.Name, e.PasswordHash, e.Role); err != nil {
				return fmt.Errorf("seeding %s: %w", e.Name, err)
			}
			created++
		}
		return PutSetting(ctx, tx, settingRosterSeeded, "1")
	})
	if err != nil {
		return 0, fmt.Errorf("seeding roster: %w", err)
	}
	return created, nil
}

// CountHeldBy returns how many items are in holder's custody.
func CountHeldBy(ctx context.Context, db DBTX, holder string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE current_holder = ?`, holder,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting held items: %w", err)
	}
	return n, nil
}

// Roster returns the display names of active users with role, sorted.
func Roster(ctx context.Context, db DBTX, role string) ([]string, error) {
	users, err := ListUsers(ctx, db, role)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}
	return names, nil
}

// HasRole reports whether an active user with the given name and role exists.
func HasRole(ctx context.Context, db DBTX, name, role string) (bool, error) {
	u, err := GetUserByName(ctx, db, name)
	if err != nil {
		return false, err
	}
	return u != nil && u.Role == role, nil
}

