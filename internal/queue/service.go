package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicops/clinic-platform/internal/audit"
	"github.com/clinicops/clinic-platform/internal/observability/metrics"
	"github.com/clinicops/clinic-platform/internal/roster"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

var queueTracer = otel.Tracer("clinicops.internal.queue")

// EntryStore is the persistence surface the service drives. *Store
// satisfies it; tests inject fakes.
type EntryStore interface {
	Allocate(ctx context.Context, e *Entry, defaultCapacity int) (*Entry, error)
	Get(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error)
	ListDay(ctx context.Context, orgID string, day time.Time) ([]Entry, error)
	Start(ctx context.Context, orgID string, id uuid.UUID, doctorID *uuid.UUID) (*Entry, error)
	Complete(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error)
	Skip(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error)
	Cancel(ctx context.Context, orgID string, id uuid.UUID) (*Entry, error)
	SetEmergency(ctx context.Context, orgID string, id uuid.UUID, priority int) (*Entry, error)
	AssignDoctor(ctx context.Context, orgID string, id uuid.UUID, doctorID uuid.UUID) (*Entry, error)
	ClearStaleEmergencies(ctx context.Context, cutoff time.Time) (int64, error)
}

// BoardPublisher pushes the re-ordered day to connected queue boards.
type BoardPublisher interface {
	Publish(orgID string, day time.Time, entries []Entry)
}

// ServiceConfig carries the scheduling knobs.
type ServiceConfig struct {
	// DefaultDailyCapacity seeds clinic days without an override.
	DefaultDailyCapacity int
	// AcutePriority is the system tier assigned by SendToEmergency.
	AcutePriority int
	// EmergencyValidity bounds how long an emergency flag stays live
	// before the maintenance sweep clears it.
	EmergencyValidity time.Duration
}

// Service applies the queue state machine. Every doctor-setting write
// re-validates the doctor against the roster; a previously on-duty
// doctor removed mid-day must not be silently assigned.
type Service struct {
	store   EntryStore
	roster  roster.Provider
	audit   audit.Sink
	board   BoardPublisher
	metrics *metrics.QueueMetrics
	logger  *logging.Logger
	cfg     ServiceConfig
	now     func() time.Time
}

// NewService creates the queue service.
func NewService(store EntryStore, rosterProvider roster.Provider, sink audit.Sink, cfg ServiceConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if cfg.AcutePriority <= 0 {
		cfg.AcutePriority = 100
	}
	if cfg.EmergencyValidity <= 0 {
		cfg.EmergencyValidity = 12 * time.Hour
	}
	return &Service{
		store:  store,
		roster: rosterProvider,
		audit:  sink,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithBoard attaches a queue board publisher.
func (s *Service) WithBoard(board BoardPublisher) *Service {
	s.board = board
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

// AddToQueue allocates the next queue number for the patient on the
// given date. A zero date defaults to today; this is the only place
// that default applies.
func (s *Service) AddToQueue(ctx context.Context, orgID string, patientID uuid.UUID, date time.Time) (*Entry, error) {
	ctx, span := queueTracer.Start(ctx, "queue.add")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.patient_id", patientID.String()),
	)

	now := s.now()
	if !date.IsZero() && DateOf(date).Before(DateOf(now)) {
		return nil, ErrInvalidDate
	}

	e := NewEntry(orgID, patientID, date, now)
	created, err := s.store.Allocate(ctx, e, s.cfg.DefaultDailyCapacity)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveCreated("rejected")
		return nil, err
	}
	s.metrics.ObserveCreated("ok")

	s.recordAudit(ctx, orgID, "queue.created", created.ID, map[string]any{
		"queue_number": created.QueueNumber,
		"date":         created.AppointmentDate.Format("2006-01-02"),
	})
	s.logger.Info("queue entry created",
		"org_id", orgID, "queue_id", created.ID, "queue_number", created.QueueNumber)

	s.publishDay(ctx, orgID, created.AppointmentDate)
	return created, nil
}

// Start transitions an entry to in-progress, optionally binding a
// doctor validated against the roster for the entry's clinic day.
func (s *Service) Start(ctx context.Context, orgID string, queueID uuid.UUID, doctorID *uuid.UUID) (*Entry, error) {
	if doctorID != nil {
		entry, err := s.store.Get(ctx, orgID, queueID)
		if err != nil {
			return nil, err
		}
		if err := s.validateDoctor(ctx, orgID, *doctorID, entry.AppointmentDate); err != nil {
			s.metrics.ObserveTransition("start", "rejected")
			return nil, err
		}
	}

	updated, err := s.transition(ctx, "start", func(ctx context.Context) (*Entry, error) {
		return s.store.Start(ctx, orgID, queueID, doctorID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.started", queueID, auditDoctor(doctorID))
	s.publishDay(ctx, orgID, updated.AppointmentDate)
	return updated, nil
}

// Complete finishes an in-progress visit and finalizes the checkup.
func (s *Service) Complete(ctx context.Context, orgID string, queueID uuid.UUID) (*Entry, error) {
	updated, err := s.transition(ctx, "complete", func(ctx context.Context) (*Entry, error) {
		return s.store.Complete(ctx, orgID, queueID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.completed", queueID, nil)
	s.publishDay(ctx, orgID, updated.AppointmentDate)
	return updated, nil
}

// Skip returns an entry to waiting without losing its slot identity.
func (s *Service) Skip(ctx context.Context, orgID string, queueID uuid.UUID) (*Entry, error) {
	updated, err := s.transition(ctx, "skip", func(ctx context.Context) (*Entry, error) {
		return s.store.Skip(ctx, orgID, queueID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.skipped", queueID, nil)
	s.publishDay(ctx, orgID, updated.AppointmentDate)
	return updated, nil
}

// Cancel terminates a waiting entry at the patient's request.
func (s *Service) Cancel(ctx context.Context, orgID string, queueID uuid.UUID) (*Entry, error) {
	updated, err := s.transition(ctx, "cancel", func(ctx context.Context) (*Entry, error) {
		return s.store.Cancel(ctx, orgID, queueID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.cancelled", queueID, nil)
	s.publishDay(ctx, orgID, updated.AppointmentDate)
	return updated, nil
}

// PrioritizeEmergency flags an entry as an emergency case at the given
// priority tier. The queue status is untouched.
func (s *Service) PrioritizeEmergency(ctx context.Context, orgID string, queueID uuid.UUID, priority int) (*Entry, error) {
	if priority < 0 {
		return nil, fmt.Errorf("queue: emergency priority must be non-negative")
	}
	updated, err := s.transition(ctx, "prioritize", func(ctx context.Context) (*Entry, error) {
		return s.store.SetEmergency(ctx, orgID, queueID, priority)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.emergency_prioritized", queueID, map[string]any{"priority": priority})
	s.publishDay(ctx, orgID, updated.AppointmentDate)
	return updated, nil
}

// SendToEmergency escalates an entry mid-visit at the system acute tier.
func (s *Service) SendToEmergency(ctx context.Context, orgID string, queueID uuid.UUID) (*Entry, error) {
	updated, err := s.transition(ctx, "send_to_emergency", func(ctx context.Context) (*Entry, error) {
		return s.store.SetEmergency(ctx, orgID, queueID, s.cfg.AcutePriority)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.emergency_acute", queueID, map[string]any{"priority": s.cfg.AcutePriority})
	s.publishDay(ctx, orgID, updated.AppointmentDate)
	return updated, nil
}

// AssignDoctor binds a doctor to an entry after re-validating role and
// duty status for the entry's clinic day.
func (s *Service) AssignDoctor(ctx context.Context, orgID string, queueID uuid.UUID, doctorID uuid.UUID) (*Entry, error) {
	entry, err := s.store.Get(ctx, orgID, queueID)
	if err != nil {
		return nil, err
	}
	if err := s.validateDoctor(ctx, orgID, doctorID, entry.AppointmentDate); err != nil {
		s.metrics.ObserveTransition("assign_doctor", "rejected")
		return nil, err
	}

	updated, err := s.transition(ctx, "assign_doctor", func(ctx context.Context) (*Entry, error) {
		return s.store.AssignDoctor(ctx, orgID, queueID, doctorID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "queue.doctor_assigned", queueID, auditDoctor(&doctorID))
	return updated, nil
}

// ListDay returns the serving order for a clinic day. The order is
// derived on every call, never persisted.
func (s *Service) ListDay(ctx context.Context, orgID string, day time.Time) ([]Entry, error) {
	if day.IsZero() {
		day = s.now()
	}
	entries, err := s.store.ListDay(ctx, orgID, DateOf(day))
	if err != nil {
		return nil, err
	}
	return Order(entries), nil
}

// UpdateEmergencyStatuses clears emergency flags older than the
// configured validity window. Runs from the maintenance worker.
func (s *Service) UpdateEmergencyStatuses(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.EmergencyValidity)
	cleared, err := s.store.ClearStaleEmergencies(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logger.Info("stale emergency flags cleared", "count", cleared, "cutoff", cutoff)
		s.recordAudit(ctx, "", "maintenance.emergency_sweep", uuid.Nil, map[string]any{"cleared": cleared})
	}
	return cleared, nil
}

func (s *Service) transition(ctx context.Context, op string, apply func(context.Context) (*Entry, error)) (*Entry, error) {
	ctx, span := queueTracer.Start(ctx, "queue."+op)
	defer span.End()

	updated, err := apply(ctx)
	if err != nil {
		span.RecordError(err)
		if _, ok := IsInvalidTransition(err); ok {
			s.metrics.ObserveTransition(op, "rejected")
		} else {
			s.metrics.ObserveTransition(op, "error")
		}
		return nil, err
	}
	s.metrics.ObserveTransition(op, "ok")
	return updated, nil
}

func (s *Service) validateDoctor(ctx context.Context, orgID string, doctorID uuid.UUID, day time.Time) error {
	isDoctor, err := s.roster.IsDoctor(ctx, orgID, doctorID)
	if err != nil {
		return fmt.Errorf("queue: roster lookup: %w", err)
	}
	if !isDoctor {
		return ErrDoctorNotEligible
	}
	onDuty, err := s.roster.IsOnDuty(ctx, orgID, doctorID, day)
	if err != nil {
		return fmt.Errorf("queue: duty lookup: %w", err)
	}
	if !onDuty {
		return ErrDoctorNotOnDuty
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, orgID, action string, queueID uuid.UUID, details map[string]any) {
	ev := audit.Event{OrgID: orgID, Action: action, QueueID: queueID, Details: details}
	if err := s.audit.Record(ctx, ev); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func (s *Service) publishDay(ctx context.Context, orgID string, day time.Time) {
	if s.board == nil {
		return
	}
	entries, err := s.store.ListDay(ctx, orgID, day)
	if err != nil {
		s.logger.Warn("queue board refresh failed", "org_id", orgID, "error", err)
		return
	}
	s.board.Publish(orgID, day, Order(entries))
}

func auditDoctor(doctorID *uuid.UUID) map[string]any {
	if doctorID == nil {
		return nil
	}
	return map[string]any{"doctor_id": doctorID.String()}
}
