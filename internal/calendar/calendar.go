// Package calendar supplies per-clinic daily capacity and open/closed
// state. The queue allocator re-checks capacity under its own lock;
// this provider serves advance validation and display.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Provider answers capacity questions for clinic days.
type Provider interface {
	// Capacity returns the configured daily limit for the day.
	Capacity(ctx context.Context, orgID string, day time.Time) (int, error)
	// IsOpen reports whether the clinic accepts entries for the day.
	IsOpen(ctx context.Context, orgID string, day time.Time) (bool, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProvider reads clinic_days rows, falling back to the
// configured default capacity for days without an override.
type PostgresProvider struct {
	db              DB
	defaultCapacity int
}

// NewPostgresProvider creates a calendar provider.
func NewPostgresProvider(db DB, defaultCapacity int) *PostgresProvider {
	return &PostgresProvider{db: db, defaultCapacity: defaultCapacity}
}

func (p *PostgresProvider) Capacity(ctx context.Context, orgID string, day time.Time) (int, error) {
	var capacity int
	err := p.db.QueryRow(ctx, `
		SELECT capacity FROM clinic_days
		WHERE org_id = $1 AND day = $2`, orgID, day).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p.defaultCapacity, nil
		}
		return 0, fmt.Errorf("calendar: look up capacity: %w", err)
	}
	return capacity, nil
}

func (p *PostgresProvider) IsOpen(ctx context.Context, orgID string, day time.Time) (bool, error) {
	var closed bool
	err := p.db.QueryRow(ctx, `
		SELECT closed FROM clinic_days
		WHERE org_id = $1 AND day = $2`, orgID, day).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No override recorded: the day is open with default capacity.
			return p.defaultCapacity > 0, nil
		}
		return false, fmt.Errorf("calendar: look up day: %w", err)
	}
	return !closed, nil
}
