// Package audit provides the write-only audit event sink. Records are
// append-only; nothing in the platform reads them back.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Event is a single immutable audit record.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     string         `json:"org_id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	QueueID   uuid.UUID      `json:"queue_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink accepts audit events. Implementations must not read them back.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder persists audit events to Postgres.
type Recorder struct {
	db DB
}

// NewRecorder creates an audit recorder.
func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts the event. Missing id/timestamp are filled in.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
	}

	var queueID *uuid.UUID
	if ev.QueueID != uuid.Nil {
		queueID = &ev.QueueID
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_events (id, org_id, action, actor, queue_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.OrgID, ev.Action, ev.Actor, queueID, details, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Nop discards events. Used in tests and when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
