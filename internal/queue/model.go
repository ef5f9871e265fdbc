package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks where a queue entry is in its visit lifecycle.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	// StatusArchived marks a missed entry that was moved to the archival
	// store instead of being rescheduled. Distinct from cancelled.
	StatusArchived Status = "archived"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusArchived
}

// CheckupStatus tracks the clinical checkup paperwork, independent of
// the queue status.
type CheckupStatus string

const (
	CheckupPending   CheckupStatus = "pending"
	CheckupCompleted CheckupStatus = "completed"
)

// Entry is one patient's slot for one clinic day.
type Entry struct {
	ID                 uuid.UUID     `json:"id"`
	OrgID              string        `json:"org_id"`
	PatientID          uuid.UUID     `json:"patient_id"`
	AppointmentDate    time.Time     `json:"appointment_date"`
	QueueNumber        int           `json:"queue_number"`
	Status             Status        `json:"status"`
	CheckupStatus      CheckupStatus `json:"checkup_status"`
	Emergency          bool          `json:"emergency"`
	EmergencyPriority  int           `json:"emergency_priority"`
	EmergencyFlaggedAt *time.Time    `json:"emergency_flagged_at,omitempty"`
	StartTime          *time.Time    `json:"start_time,omitempty"`
	DoctorID           *uuid.UUID    `json:"doctor_id,omitempty"`
	LastSkippedAt      *time.Time    `json:"last_skipped_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewEntry builds an entry with construction-time defaults applied:
// status waiting, checkup pending, appointment date falling back to
// today when the zero value is passed. The appointment date never
// changes after creation except through the reschedule workflow.
func NewEntry(orgID string, patientID uuid.UUID, date time.Time, now time.Time) *Entry {
	if date.IsZero() {
		date = now
	}
	return &Entry{
		ID:              uuid.New(),
		OrgID:           orgID,
		PatientID:       patientID,
		AppointmentDate: DateOf(date),
		Status:          StatusWaiting,
		CheckupStatus:   CheckupPending,
	}
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
