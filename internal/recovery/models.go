package recovery

import (
	"time"

	"github.com/google/uuid"
)

// Method records how a reschedule was initiated.
type Method string

const (
	MethodSingle Method = "single"
	MethodBatch  Method = "batch"
	MethodManual Method = "manual"
)

// Record is the durable trace of one reschedule: which entry moved,
// from where to where, who moved it and why.
type Record struct {
	ID         uuid.UUID `json:"id"`
	OrgID      string    `json:"org_id"`
	QueueID    uuid.UUID `json:"queue_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	FromDate   time.Time `json:"from_date"`
	ToDate     time.Time `json:"to_date"`
	FromNumber int       `json:"from_number"`
	ToNumber   int       `json:"to_number"`
	Reason     string    `json:"reason"`
	Actor      string    `json:"actor"`
	Method     Method    `json:"method"`
	CreatedAt  time.Time `json:"created_at"`
}

// ManualItem is one entry in a manual reschedule request, each with
// its own target date and reason.
type ManualItem struct {
	QueueID uuid.UUID `json:"queue_id"`
	NewDate time.Time `json:"new_date"`
	Reason  string    `json:"reason"`
}

// ItemResult reports the outcome for a single entry of a batch or
// manual reschedule. A failed item never blocks its siblings.
type ItemResult struct {
	QueueID     uuid.UUID `json:"queue_id"`
	OK          bool      `json:"ok"`
	NewDate     string    `json:"new_date,omitempty"`
	QueueNumber int       `json:"queue_number,omitempty"`
	Error       string    `json:"error,omitempty"`
	Message     string    `json:"message,omitempty"`
}
