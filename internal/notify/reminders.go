package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicops/clinic-platform/pkg/logging"
)

// reminderDB is the database surface ReminderJob needs.
type reminderDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ReminderJob emails every patient still waiting on a clinic day,
// across all orgs. The maintenance worker runs it once per day for the
// next day's queue.
type ReminderJob struct {
	db     reminderDB
	svc    *Service
	logger *logging.Logger
}

// NewReminderJob creates a reminder job.
func NewReminderJob(db reminderDB, svc *Service, logger *logging.Logger) *ReminderJob {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReminderJob{db: db, svc: svc, logger: logger}
}

// SendUpcomingReminders notifies every waiting entry on the given day.
// A failed send is logged and skipped; the pass keeps going. Returns
// the number of reminders sent.
func (j *ReminderJob) SendUpcomingReminders(ctx context.Context, day time.Time) (int, error) {
	rows, err := j.db.Query(ctx, `
		SELECT org_id, patient_id, queue_number FROM queue_entries
		WHERE status = 'waiting' AND appointment_date = $1
		ORDER BY org_id, queue_number`, day)
	if err != nil {
		return 0, fmt.Errorf("notify: list upcoming entries: %w", err)
	}
	defer rows.Close()

	type target struct {
		orgID       string
		patientID   uuid.UUID
		queueNumber int
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.orgID, &t.patientID, &t.queueNumber); err != nil {
			return 0, fmt.Errorf("notify: scan upcoming entry: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("notify: list upcoming entries: %w", err)
	}

	sent := 0
	for _, t := range targets {
		if err := j.svc.ReminderNotice(ctx, t.orgID, t.patientID, day, t.queueNumber); err != nil {
			j.logger.Warn("reminder failed",
				"org_id", t.orgID, "patient_id", t.patientID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}
