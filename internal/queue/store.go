package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for queue entries.
//
// Queue number allocation runs inside a transaction that locks the
// clinic day row, so concurrent check-ins for the same date serialize
// and can never receive the same number. State transitions are guarded
// UPDATEs: a racing writer observes zero affected rows and surfaces the
// entry's current status instead of silently overwriting.
type Store struct {
	db DB
}

// NewStore creates a queue store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, org_id, patient_id, appointment_date, queue_number, status, checkup_status,
		emergency, emergency_priority, emergency_flagged_at, start_time, doctor_id, last_skipped_at,
		created_at, updated_at`

// Allocate inserts a new waiting entry with the next queue number for
// the entry's clinic day. defaultCapacity seeds the clinic day row when
// none exists yet.
func (s *Store) Allocate(ctx context.Context, e *Entry, defaultCapacity int) (*Entry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin allocation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO clinic_days (org_id, day, capacity)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, day) DO NOTHING`,
		e.OrgID, e.AppointmentDate, defaultCapacity,
	); err != nil {
		return nil, fmt.Errorf("queue: seed clinic day: %w", err)
	}

	// Lock the day row. Every allocator for this (org, day) queues here.
	var capacity int
	var closed bool
	if err := tx.QueryRow(ctx, `
		SELECT capacity, closed FROM clinic_days
		WHERE org_id = $1 AND day = $2
		FOR UPDATE`,
		e.OrgID, e.AppointmentDate,
	).Scan(&capacity, &closed); err != nil {
		return nil, fmt.Errorf("queue: lock clinic day: %w", err)
	}
	if closed {
		return nil, ErrInvalidDate
	}

	var occupied int
	var maxNumber int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status NOT IN ('cancelled', 'archived')), COALESCE(MAX(queue_number), 0)
		FROM queue_entries
		WHERE org_id = $1 AND appointment_date = $2`,
		e.OrgID, e.AppointmentDate,
	).Scan(&occupied, &maxNumber); err != nil {
		return nil, fmt.Errorf("queue: count day entries: %w", err)
	}
	if occupied >= capacity {
		return nil, ErrCapacityExceeded
	}

	var duplicate bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE org_id = $1 AND appointment_date = $2 AND patient_id = $3
			AND status IN ('waiting', 'in_progress')
		)`,
		e.OrgID, e.AppointmentDate, e.PatientID,
	).Scan(&duplicate); err != nil {
		return nil, fmt.Errorf("queue: check duplicate entry: %w", err)
	}
	if duplicate {
		return nil, ErrDuplicateEntry
	}

	e.QueueNumber = maxNumber + 1
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_entries (id, org_id, patient_id, appointment_date, queue_number, status, checkup_status,
			emergency, emergency_priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.OrgID, e.PatientID, e.AppointmentDate, e.QueueNumber, string(e.Status), string(e.CheckupStatus),
		e.Emergency, e.EmergencyPriority, e.CreatedAt, e.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("queue: insert entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: commit allocation: %w", err)
	}
	return e, nil
}

// Get returns a single entry scoped to the org.
func (s *Store) Get(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE org_id = $1 AND id = $2`, orgID, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("queue: load entry: %w", err)
	}
	return e, nil
}

// ListDay returns all non-terminal entries for a clinic day. Snapshot
// read, no locking; ordering is computed by the caller.
func (s *Store) ListDay(ctx context.Context, orgID string, day time.Time) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE org_id = $1 AND appointment_date = $2 AND status IN ('waiting', 'in_progress')
		ORDER BY queue_number ASC`, orgID, day)
	if err != nil {
		return nil, fmt.Errorf("queue: list day: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Start transitions waiting → in_progress and stamps the start time.
// doctorID, when non-nil, must already be validated by the caller; a
// nil doctorID keeps whatever doctor was assigned earlier.
func (s *Store) Start(ctx context.Context, orgID string, id uuid.UUID, doctorID *uuid.UUID) (*Entry, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'in_progress', start_time = $1, doctor_id = COALESCE($2, doctor_id), updated_at = $1
		WHERE org_id = $3 AND id = $4 AND status = 'waiting'
		RETURNING `+entryColumns,
		now, doctorID, orgID, id)
	return s.transitioned(ctx, row, orgID, id, "start")
}

// Complete transitions in_progress → completed and finalizes the
// checkup status.
func (s *Store) Complete(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'completed', checkup_status = 'completed', updated_at = $1
		WHERE org_id = $2 AND id = $3 AND status = 'in_progress'
		RETURNING `+entryColumns,
		now, orgID, id)
	return s.transitioned(ctx, row, orgID, id, "complete")
}

// Skip returns an entry to waiting without losing its queue number.
// The skip timestamp pushes it behind non-skipped peers in the listing.
func (s *Store) Skip(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'waiting', start_time = NULL, doctor_id = NULL, last_skipped_at = $1, updated_at = $1
		WHERE org_id = $2 AND id = $3 AND status IN ('waiting', 'in_progress')
		RETURNING `+entryColumns,
		now, orgID, id)
	return s.transitioned(ctx, row, orgID, id, "skip")
}

// Cancel transitions waiting → cancelled. Terminal.
func (s *Store) Cancel(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'cancelled', updated_at = $1
		WHERE org_id = $2 AND id = $3 AND status = 'waiting'
		RETURNING `+entryColumns,
		now, orgID, id)
	return s.transitioned(ctx, row, orgID, id, "cancel")
}

// SetEmergency flags a non-terminal entry as an emergency case. The
// queue status itself does not change.
func (s *Store) SetEmergency(ctx context.Context, orgID string, id uuid.UUID, priority int) (*Entry, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_entries
		SET emergency = TRUE, emergency_priority = $1, emergency_flagged_at = $2, updated_at = $2
		WHERE org_id = $3 AND id = $4 AND status IN ('waiting', 'in_progress')
		RETURNING `+entryColumns,
		priority, now, orgID, id)
	return s.transitioned(ctx, row, orgID, id, "prioritize")
}

// AssignDoctor binds a validated doctor to a non-terminal entry.
func (s *Store) AssignDoctor(ctx context.Context, orgID string, id uuid.UUID, doctorID uuid.UUID) (*Entry, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE queue_entries
		SET doctor_id = $1, updated_at = $2
		WHERE org_id = $3 AND id = $4 AND status IN ('waiting', 'in_progress')
		RETURNING `+entryColumns,
		doctorID, now, orgID, id)
	return s.transitioned(ctx, row, orgID, id, "assign doctor")
}

// ClearStaleEmergencies drops emergency flags raised before the cutoff
// on entries still in play. Returns the number of entries cleared.
func (s *Store) ClearStaleEmergencies(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE queue_entries
		SET emergency = FALSE, emergency_priority = 0, emergency_flagged_at = NULL, updated_at = $1
		WHERE emergency = TRUE AND emergency_flagged_at < $2 AND status IN ('waiting', 'in_progress')`,
		now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: clear stale emergencies: %w", err)
	}
	return tag.RowsAffected(), nil
}

// transitioned resolves the outcome of a guarded transition. When the
// guard matched nothing the entry is re-read so the caller learns its
// current status.
func (s *Store) transitioned(ctx context.Context, row pgx.Row, orgID string, id uuid.UUID, op string) (*Entry, error) {
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("queue: %s entry: %w", op, err)
	}
	current, getErr := s.Get(ctx, orgID, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &InvalidTransitionError{QueueID: id, Operation: op, Current: current.Status}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status, checkup string
	err := row.Scan(
		&e.ID, &e.OrgID, &e.PatientID, &e.AppointmentDate, &e.QueueNumber, &status, &checkup,
		&e.Emergency, &e.EmergencyPriority, &e.EmergencyFlaggedAt, &e.StartTime, &e.DoctorID, &e.LastSkippedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.CheckupStatus = CheckupStatus(checkup)
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: scan entry: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}
