package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/erazemk/makhzan/internal/auth"
	"github.com/erazemk/makhzan/internal/config"
	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/store"
)

// bootstrap prepares a fresh database: it creates the admin account when no
// account exists yet and seeds the configured roster once. The generated
// admin password is printed to out, since it cannot be recovered later.
func bootstrap(ctx context.Context, database *sql.DB, cfg *config.Config, out io.Writer) error {
	n, err := store.CountUsers(ctx, database)
	if err != nil {
		return err
	}
	if n == 0 {
		password, err := generatePassword(16)
		if err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		if _, err := store.CreateUser(ctx, database, cfg.AdminUser, hash, model.RoleAdmin); err != nil {
			return fmt.Errorf("creating admin user: %w", err)
		}
		printAdmin(out, cfg.AdminUser, password)
	}

	entries, err := rosterEntries(cfg)
	if err != nil {
		return err
	}
	created, err := store.SeedRoster(ctx, database, entries)
	if err != nil {
		return err
	}
	if created > 0 {
		slog.Info("roster seeded", "accounts", created)
	}
	return nil
}

// rosterEntries turns the configured names into accounts with the default
// instructor password. Supervisors get the same starting password.
func rosterEntries(cfg *config.Config) ([]store.RosterEntry, error) {
	if len(cfg.Roster.Instructors)+len(cfg.Roster.Supervisors) == 0 {
		return nil, nil
	}
	hash, err := auth.HashPassword(cfg.DefaultInstructorPassword)
	if err != nil {
		return nil, err
	}

	var entries []store.RosterEntry
	for _, name := range cfg.Roster.Supervisors {
		entries = append(entries, store.RosterEntry{Name: name, Role: model.RoleSupervisor, PasswordHash: hash})
	}
	for _, name := range cfg.Roster.Instructors {
		entries = append(entries, store.RosterEntry{Name: name, Role: model.RoleInstructor, PasswordHash: hash})
	}
	return entries, nil
}

func printAdmin(out io.Writer, name, password string) {
	fmt.Fprintln(out, "Admin account created:")
	fmt.Fprintf(out, "  Name:     %s\n", name)
	fmt.Fprintf(out, "  Password: %s\n", password)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Save this password, it cannot be recovered.")
	fmt.Fprintln(out, "The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
