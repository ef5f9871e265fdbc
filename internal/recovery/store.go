package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicops/clinic-platform/internal/queue"
)

// ErrNotMissed is returned when a reschedule targets a waiting entry
// whose clinic day has not passed yet. Recovery only moves missed
// entries; same-day changes go through skip or cancel.
var ErrNotMissed = errors.New("recovery: entry is not missed")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists reschedules and archival of missed queue entries.
//
// A reschedule runs in one transaction: the entry row and the target
// clinic day row are both locked, so the capacity check and the new
// queue number stay consistent under concurrent writers. On any
// rejection the original entry is untouched.
type Store struct {
	db DB
}

// NewStore creates a recovery store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, org_id, patient_id, appointment_date, queue_number, status, checkup_status,
		emergency, emergency_priority, emergency_flagged_at, start_time, doctor_id, last_skipped_at,
		created_at, updated_at`

// ListMissed returns waiting entries whose appointment date falls in
// [from, until). The caller caps until at today, so only entries whose
// clinic day has already passed come back.
func (s *Store) ListMissed(ctx context.Context, orgID string, from, until time.Time) ([]queue.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE org_id = $1 AND status = 'waiting' AND appointment_date >= $2 AND appointment_date < $3
		ORDER BY appointment_date ASC, queue_number ASC`, orgID, from, until)
	if err != nil {
		return nil, fmt.Errorf("recovery: list missed: %w", err)
	}
	defer rows.Close()

	var result []queue.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("recovery: scan missed entry: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// Reschedule moves a waiting entry to a new clinic day, allocating a
// fresh queue number there, and writes the reschedule record. The
// caller has already validated that newDate is not in the past.
func (s *Store) Reschedule(ctx context.Context, rec *Record, newDate time.Time, defaultCapacity int) (*queue.Entry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: begin reschedule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	// Lock the entry first, day row second. Same order as archive,
	// so the two paths cannot deadlock each other.
	current, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE org_id = $1 AND id = $2
		FOR UPDATE`, rec.OrgID, rec.QueueID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNotFound
		}
		return nil, fmt.Errorf("recovery: load entry: %w", err)
	}
	if current.Status != queue.StatusWaiting {
		return nil, &queue.InvalidTransitionError{
			QueueID: rec.QueueID, Operation: "reschedule", Current: current.Status,
		}
	}
	if !current.AppointmentDate.Before(queue.DateOf(now)) {
		return nil, ErrNotMissed
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO clinic_days (org_id, day, capacity)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, day) DO NOTHING`,
		rec.OrgID, newDate, defaultCapacity,
	); err != nil {
		return nil, fmt.Errorf("recovery: seed clinic day: %w", err)
	}

	var capacity int
	var closed bool
	if err := tx.QueryRow(ctx, `
		SELECT capacity, closed FROM clinic_days
		WHERE org_id = $1 AND day = $2
		FOR UPDATE`,
		rec.OrgID, newDate,
	).Scan(&capacity, &closed); err != nil {
		return nil, fmt.Errorf("recovery: lock clinic day: %w", err)
	}
	if closed {
		return nil, queue.ErrInvalidDate
	}

	var occupied int
	var maxNumber int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status NOT IN ('cancelled', 'archived')), COALESCE(MAX(queue_number), 0)
		FROM queue_entries
		WHERE org_id = $1 AND appointment_date = $2`,
		rec.OrgID, newDate,
	).Scan(&occupied, &maxNumber); err != nil {
		return nil, fmt.Errorf("recovery: count day entries: %w", err)
	}
	if occupied >= capacity {
		return nil, queue.ErrCapacityExceeded
	}

	var duplicate bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE org_id = $1 AND appointment_date = $2 AND patient_id = $3
			AND status IN ('waiting', 'in_progress') AND id <> $4
		)`,
		rec.OrgID, newDate, current.PatientID, rec.QueueID,
	).Scan(&duplicate); err != nil {
		return nil, fmt.Errorf("recovery: check duplicate entry: %w", err)
	}
	if duplicate {
		return nil, queue.ErrDuplicateEntry
	}

	updated, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET appointment_date = $1, queue_number = $2, status = 'waiting',
			start_time = NULL, doctor_id = NULL, last_skipped_at = NULL, updated_at = $3
		WHERE org_id = $4 AND id = $5
		RETURNING `+entryColumns,
		newDate, maxNumber+1, now, rec.OrgID, rec.QueueID))
	if err != nil {
		return nil, fmt.Errorf("recovery: move entry: %w", err)
	}

	rec.ID = uuid.New()
	rec.PatientID = current.PatientID
	rec.FromDate = current.AppointmentDate
	rec.ToDate = newDate
	rec.FromNumber = current.QueueNumber
	rec.ToNumber = updated.QueueNumber
	rec.CreatedAt = now

	if _, err := tx.Exec(ctx, `
		INSERT INTO reschedule_records (id, org_id, queue_id, patient_id, from_date, to_date,
			from_number, to_number, reason, actor, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.OrgID, rec.QueueID, rec.PatientID, rec.FromDate, rec.ToDate,
		rec.FromNumber, rec.ToNumber, rec.Reason, rec.Actor, string(rec.Method), rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("recovery: insert record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("recovery: commit reschedule: %w", err)
	}
	return updated, nil
}

// Archive copies an entry into archived_entries and marks the live
// row archived. Only waiting entries qualify; completed and cancelled
// are terminal, and archived is terminal and distinct from cancelled.
func (s *Store) Archive(ctx context.Context, orgID string, id uuid.UUID, reason, actor string) (*queue.Entry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	archived, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'archived', updated_at = $1
		WHERE org_id = $2 AND id = $3 AND status = 'waiting'
		RETURNING `+entryColumns,
		now, orgID, id))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("recovery: archive entry: %w", err)
		}
		current, err := scanEntry(tx.QueryRow(ctx, `
			SELECT `+entryColumns+`
			FROM queue_entries
			WHERE org_id = $1 AND id = $2`, orgID, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, queue.ErrNotFound
			}
			return nil, fmt.Errorf("recovery: load entry: %w", err)
		}
		return nil, &queue.InvalidTransitionError{
			QueueID: id, Operation: "archive", Current: current.Status,
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO archived_entries (id, org_id, patient_id, appointment_date, queue_number,
			final_status, reason, actor, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		archived.ID, archived.OrgID, archived.PatientID, archived.AppointmentDate,
		archived.QueueNumber, string(queue.StatusArchived), reason, actor, now,
	); err != nil {
		return nil, fmt.Errorf("recovery: insert archive row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("recovery: commit archive: %w", err)
	}
	return archived, nil
}

// ListRecords returns the reschedule history for an entry, newest
// first.
func (s *Store) ListRecords(ctx context.Context, orgID string, queueID uuid.UUID) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, queue_id, patient_id, from_date, to_date, from_number, to_number,
			reason, actor, method, created_at
		FROM reschedule_records
		WHERE org_id = $1 AND queue_id = $2
		ORDER BY created_at DESC`, orgID, queueID)
	if err != nil {
		return nil, fmt.Errorf("recovery: list records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		var method string
		if err := rows.Scan(
			&r.ID, &r.OrgID, &r.QueueID, &r.PatientID, &r.FromDate, &r.ToDate,
			&r.FromNumber, &r.ToNumber, &r.Reason, &r.Actor, &method, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("recovery: scan record: %w", err)
		}
		r.Method = Method(method)
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanEntry(row pgx.Row) (*queue.Entry, error) {
	var e queue.Entry
	var status, checkup string
	err := row.Scan(
		&e.ID, &e.OrgID, &e.PatientID, &e.AppointmentDate, &e.QueueNumber, &status, &checkup,
		&e.Emergency, &e.EmergencyPriority, &e.EmergencyFlaggedAt, &e.StartTime, &e.DoctorID, &e.LastSkippedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = queue.Status(status)
	e.CheckupStatus = queue.CheckupStatus(checkup)
	return &e, nil
}
