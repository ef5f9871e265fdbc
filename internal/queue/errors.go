package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no entry matches the queue id.
	ErrNotFound = errors.New("queue: entry not found")

	// ErrCapacityExceeded is returned when the clinic day is already full.
	ErrCapacityExceeded = errors.New("queue: daily capacity exceeded")

	// ErrDuplicateEntry is returned when the patient already has an
	// active entry for the requested date.
	ErrDuplicateEntry = errors.New("queue: patient already has an active entry for this date")

	// ErrDoctorNotEligible is returned when the referenced user is not an
	// active doctor.
	ErrDoctorNotEligible = errors.New("queue: doctor not eligible")

	// ErrDoctorNotOnDuty is returned when the doctor is not rostered for
	// the entry's clinic day.
	ErrDoctorNotOnDuty = errors.New("queue: doctor not on duty")

	// ErrInvalidDate is returned when a target date is closed, in the
	// past, or has no remaining capacity.
	ErrInvalidDate = errors.New("queue: invalid target date")
)

// InvalidTransitionError reports a state machine rule violation. It
// carries the entry's observed status so callers can decide whether to
// retry with fresh data after a lost-update race.
type InvalidTransitionError struct {
	QueueID   uuid.UUID
	Operation string
	Current   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("queue: cannot %s entry %s in status %q", e.Operation, e.QueueID, e.Current)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError
// and returns it if so.
func IsInvalidTransition(err error) (*InvalidTransitionError, bool) {
	var ite *InvalidTransitionError
	if errors.As(err, &ite) {
		return ite, true
	}
	return nil, false
}
