package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicops/clinic-platform/internal/audit"
	"github.com/clinicops/clinic-platform/internal/calendar"
	"github.com/clinicops/clinic-platform/internal/observability/metrics"
	"github.com/clinicops/clinic-platform/internal/queue"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

var recoveryTracer = otel.Tracer("clinicops.internal.recovery")

// RecoveryStore is the persistence surface the service drives. *Store
// satisfies it; tests inject fakes.
type RecoveryStore interface {
	ListMissed(ctx context.Context, orgID string, from, until time.Time) ([]queue.Entry, error)
	Reschedule(ctx context.Context, rec *Record, newDate time.Time, defaultCapacity int) (*queue.Entry, error)
	Archive(ctx context.Context, orgID string, id uuid.UUID, reason, actor string) (*queue.Entry, error)
	ListRecords(ctx context.Context, orgID string, queueID uuid.UUID) ([]Record, error)
}

// Notifier tells the patient about the new slot. Best effort; a
// delivery failure never rolls back a committed reschedule.
type Notifier interface {
	RescheduleNotice(ctx context.Context, orgID string, patientID uuid.UUID, newDate time.Time, queueNumber int) error
}

// Service recovers missed appointments: entries still waiting after
// their clinic day has passed are rescheduled to a future date or
// archived. Batch operations are per-item independent.
type Service struct {
	store    RecoveryStore
	audit    audit.Sink
	notifier Notifier
	calendar calendar.Provider
	metrics  *metrics.QueueMetrics
	logger   *logging.Logger
	capacity int
	now      func() time.Time
}

// NewService creates the recovery service. capacity seeds clinic days
// that have no explicit override yet.
func NewService(store RecoveryStore, sink audit.Sink, capacity int, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		store:    store,
		audit:    sink,
		capacity: capacity,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier attaches a patient notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithCalendar attaches a clinic calendar for advance target-day
// validation. The store re-checks under its own lock either way.
func (s *Service) WithCalendar(c calendar.Provider) *Service {
	s.calendar = c
	return s
}

// WithMetrics attaches Prometheus metrics.
func (s *Service) WithMetrics(m *metrics.QueueMetrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListMissed returns the entries eligible for recovery: still waiting,
// appointment date before today. A non-zero from/to narrows the date
// range; to is inclusive and is capped at yesterday.
func (s *Service) ListMissed(ctx context.Context, orgID string, from, to time.Time) ([]queue.Entry, error) {
	until := queue.DateOf(s.now())
	if !to.IsZero() {
		if d := queue.DateOf(to).AddDate(0, 0, 1); d.Before(until) {
			until = d
		}
	}
	var lower time.Time
	if !from.IsZero() {
		lower = queue.DateOf(from)
	}
	return s.store.ListMissed(ctx, orgID, lower, until)
}

// Reschedule moves one missed entry to newDate. The target must not be
// in the past and must have remaining capacity; on rejection the
// original entry keeps its date and number.
func (s *Service) Reschedule(ctx context.Context, orgID string, queueID uuid.UUID, newDate time.Time, reason, actor string) (*queue.Entry, error) {
	return s.reschedule(ctx, orgID, queueID, newDate, reason, actor, MethodSingle)
}

// RescheduleBatch moves a set of missed entries to the same date. Each
// item succeeds or fails on its own; the result reports both.
func (s *Service) RescheduleBatch(ctx context.Context, orgID string, ids []uuid.UUID, newDate time.Time, reason, actor string) []ItemResult {
	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.itemResult(id, func() (*queue.Entry, error) {
			return s.reschedule(ctx, orgID, id, newDate, reason, actor, MethodBatch)
		}))
	}
	return results
}

// RescheduleManual moves each entry to its own date with its own
// reason, with the same per-item independence as the batch form.
func (s *Service) RescheduleManual(ctx context.Context, orgID string, items []ManualItem, actor string) []ItemResult {
	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		item := item
		results = append(results, s.itemResult(item.QueueID, func() (*queue.Entry, error) {
			return s.reschedule(ctx, orgID, item.QueueID, item.NewDate, item.Reason, actor, MethodManual)
		}))
	}
	return results
}

// Archive closes out a missed entry that will not be rescheduled.
func (s *Service) Archive(ctx context.Context, orgID string, queueID uuid.UUID, reason, actor string) (*queue.Entry, error) {
	ctx, span := recoveryTracer.Start(ctx, "recovery.archive")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.queue_id", queueID.String()),
	)

	archived, err := s.store.Archive(ctx, orgID, queueID, reason, actor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.recordAudit(ctx, orgID, "queue.archived", queueID, map[string]any{
		"reason": reason,
		"actor":  actor,
	})
	s.logger.Info("queue entry archived",
		"org_id", orgID, "queue_id", queueID, "actor", actor)
	return archived, nil
}

// History returns the reschedule records for an entry, newest first.
func (s *Service) History(ctx context.Context, orgID string, queueID uuid.UUID) ([]Record, error) {
	return s.store.ListRecords(ctx, orgID, queueID)
}

func (s *Service) reschedule(ctx context.Context, orgID string, queueID uuid.UUID, newDate time.Time, reason, actor string, method Method) (*queue.Entry, error) {
	ctx, span := recoveryTracer.Start(ctx, "recovery.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.queue_id", queueID.String()),
		attribute.String("clinic.method", string(method)),
	)

	if newDate.IsZero() || queue.DateOf(newDate).Before(queue.DateOf(s.now())) {
		s.metrics.ObserveReschedule("rejected")
		return nil, queue.ErrInvalidDate
	}
	if s.calendar != nil {
		open, err := s.calendar.IsOpen(ctx, orgID, queue.DateOf(newDate))
		if err != nil {
			return nil, err
		}
		if !open {
			s.metrics.ObserveReschedule("rejected")
			return nil, queue.ErrInvalidDate
		}
	}

	rec := &Record{
		OrgID:   orgID,
		QueueID: queueID,
		Reason:  reason,
		Actor:   actor,
		Method:  method,
	}
	updated, err := s.store.Reschedule(ctx, rec, queue.DateOf(newDate), s.capacity)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveReschedule("rejected")
		return nil, err
	}
	s.metrics.ObserveReschedule("ok")

	s.recordAudit(ctx, orgID, "queue.rescheduled", queueID, map[string]any{
		"from_date":    rec.FromDate.Format("2006-01-02"),
		"to_date":      rec.ToDate.Format("2006-01-02"),
		"queue_number": updated.QueueNumber,
		"method":       string(method),
		"actor":        actor,
	})
	s.logger.Info("queue entry rescheduled",
		"org_id", orgID, "queue_id", queueID,
		"to_date", rec.ToDate.Format("2006-01-02"), "queue_number", updated.QueueNumber)

	if s.notifier != nil {
		if err := s.notifier.RescheduleNotice(ctx, orgID, updated.PatientID, updated.AppointmentDate, updated.QueueNumber); err != nil {
			s.logger.Warn("reschedule notice failed",
				"org_id", orgID, "queue_id", queueID, "error", err)
		}
	}
	return updated, nil
}

func (s *Service) itemResult(id uuid.UUID, apply func() (*queue.Entry, error)) ItemResult {
	updated, err := apply()
	if err != nil {
		return ItemResult{
			QueueID: id,
			Error:   errorKind(err),
			Message: err.Error(),
		}
	}
	return ItemResult{
		QueueID:     id,
		OK:          true,
		NewDate:     updated.AppointmentDate.Format("2006-01-02"),
		QueueNumber: updated.QueueNumber,
	}
}

func (s *Service) recordAudit(ctx context.Context, orgID, action string, queueID uuid.UUID, details map[string]any) {
	ev := audit.Event{OrgID: orgID, Action: action, QueueID: queueID, Details: details}
	if err := s.audit.Record(ctx, ev); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, queue.ErrNotFound):
		return "not_found"
	case errors.Is(err, queue.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, queue.ErrDuplicateEntry):
		return "duplicate_entry"
	case errors.Is(err, queue.ErrInvalidDate):
		return "invalid_date"
	case errors.Is(err, ErrNotMissed):
		return "not_missed"
	default:
		if _, ok := queue.IsInvalidTransition(err); ok {
			return "invalid_transition"
		}
		return "internal"
	}
}
