// Package roster answers doctor eligibility and on-duty questions.
// Any user with the doctor role and an active duty entry for a date
// satisfies assignment; there is no inheritance hierarchy.
package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Provider looks up doctor eligibility and duty status. Callers
// re-check on every write that assigns a doctor; a doctor removed from
// the roster mid-day must not remain assignable.
type Provider interface {
	IsDoctor(ctx context.Context, orgID string, userID uuid.UUID) (bool, error)
	IsOnDuty(ctx context.Context, orgID string, userID uuid.UUID, day time.Time) (bool, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProvider resolves roster questions against the staff and
// duty_rosters tables.
type PostgresProvider struct {
	db DB
}

// NewPostgresProvider creates a roster provider backed by Postgres.
func NewPostgresProvider(db DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

// IsDoctor reports whether the user is an active staff member with the
// doctor role.
func (p *PostgresProvider) IsDoctor(ctx context.Context, orgID string, userID uuid.UUID) (bool, error) {
	var role string
	var active bool
	err := p.db.QueryRow(ctx, `
		SELECT role, active FROM staff
		WHERE org_id = $1 AND id = $2`, orgID, userID).Scan(&role, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("roster: look up staff: %w", err)
	}
	return role == "doctor" && active, nil
}

// IsOnDuty reports whether the doctor has a duty entry for the day.
func (p *PostgresProvider) IsOnDuty(ctx context.Context, orgID string, userID uuid.UUID, day time.Time) (bool, error) {
	var onDuty bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM duty_rosters
			WHERE org_id = $1 AND doctor_id = $2 AND day = $3
		)`, orgID, userID, day).Scan(&onDuty)
	if err != nil {
		return false, fmt.Errorf("roster: look up duty: %w", err)
	}
	return onDuty, nil
}
