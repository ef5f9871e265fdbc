package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/clinic-platform/internal/audit"
)

type fakeStore struct {
	entries  map[uuid.UUID]*Entry
	allocErr error

	capacity     int
	clearCutoff  time.Time
	clearedCount int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[uuid.UUID]*Entry{}, capacity: 10}
}

func (f *fakeStore) Allocate(_ context.Context, e *Entry, _ int) (*Entry, error) {
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	active := 0
	max := 0
	for _, other := range f.entries {
		if other.AppointmentDate.Equal(e.AppointmentDate) {
			if other.Status == StatusWaiting || other.Status == StatusInProgress {
				active++
				if other.PatientID == e.PatientID {
					return nil, ErrDuplicateEntry
				}
			}
			if other.QueueNumber > max {
				max = other.QueueNumber
			}
		}
	}
	if active >= f.capacity {
		return nil, ErrCapacityExceeded
	}
	e.QueueNumber = max + 1
	f.entries[e.ID] = e
	return e, nil
}

func (f *fakeStore) Get(_ context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	e, ok := f.entries[id]
	if !ok || e.OrgID != orgID {
		return nil, ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) ListDay(_ context.Context, orgID string, day time.Time) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.OrgID == orgID && e.AppointmentDate.Equal(day) && !e.Status.Terminal() {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) guarded(orgID string, id uuid.UUID, op string, allowed []Status, apply func(*Entry)) (*Entry, error) {
	e, ok := f.entries[id]
	if !ok || e.OrgID != orgID {
		return nil, ErrNotFound
	}
	for _, st := range allowed {
		if e.Status == st {
			apply(e)
			return e, nil
		}
	}
	return nil, &InvalidTransitionError{QueueID: id, Operation: op, Current: e.Status}
}

func (f *fakeStore) Start(_ context.Context, orgID string, id uuid.UUID, doctorID *uuid.UUID) (*Entry, error) {
	return f.guarded(orgID, id, "start", []Status{StatusWaiting}, func(e *Entry) {
		now := time.Now().UTC()
		e.Status = StatusInProgress
		e.StartTime = &now
		e.DoctorID = doctorID
	})
}

func (f *fakeStore) Complete(_ context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	return f.guarded(orgID, id, "complete", []Status{StatusInProgress}, func(e *Entry) {
		e.Status = StatusCompleted
		e.CheckupStatus = CheckupCompleted
	})
}

func (f *fakeStore) Skip(_ context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	return f.guarded(orgID, id, "skip", []Status{StatusWaiting, StatusInProgress}, func(e *Entry) {
		now := time.Now().UTC()
		e.Status = StatusWaiting
		e.StartTime = nil
		e.DoctorID = nil
		e.LastSkippedAt = &now
	})
}

func (f *fakeStore) Cancel(_ context.Context, orgID string, id uuid.UUID) (*Entry, error) {
	return f.guarded(orgID, id, "cancel", []Status{StatusWaiting}, func(e *Entry) {
		e.Status = StatusCancelled
	})
}

func (f *fakeStore) SetEmergency(_ context.Context, orgID string, id uuid.UUID, priority int) (*Entry, error) {
	return f.guarded(orgID, id, "prioritize", []Status{StatusWaiting, StatusInProgress}, func(e *Entry) {
		now := time.Now().UTC()
		e.Emergency = true
		e.EmergencyPriority = priority
		e.EmergencyFlaggedAt = &now
	})
}

func (f *fakeStore) AssignDoctor(_ context.Context, orgID string, id uuid.UUID, doctorID uuid.UUID) (*Entry, error) {
	return f.guarded(orgID, id, "assign doctor", []Status{StatusWaiting, StatusInProgress}, func(e *Entry) {
		e.DoctorID = &doctorID
	})
}

func (f *fakeStore) ClearStaleEmergencies(_ context.Context, cutoff time.Time) (int64, error) {
	f.clearCutoff = cutoff
	return f.clearedCount, nil
}

type fakeRoster struct {
	doctors map[uuid.UUID]bool
	onDuty  map[uuid.UUID]bool
}

func (r *fakeRoster) IsDoctor(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	return r.doctors[id], nil
}

func (r *fakeRoster) IsOnDuty(_ context.Context, _ string, id uuid.UUID, _ time.Time) (bool, error) {
	return r.onDuty[id], nil
}

type captureSink struct {
	events []audit.Event
}

func (c *captureSink) Record(_ context.Context, ev audit.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) actions() []string {
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Action
	}
	return out
}

type captureBoard struct {
	published int
}

func (b *captureBoard) Publish(string, time.Time, []Entry) { b.published++ }

func newTestService(store *fakeStore, r *fakeRoster, sink *captureSink) *Service {
	if r == nil {
		r = &fakeRoster{doctors: map[uuid.UUID]bool{}, onDuty: map[uuid.UUID]bool{}}
	}
	svc := NewService(store, r, sink, ServiceConfig{
		DefaultDailyCapacity: 10,
		AcutePriority:        100,
		EmergencyValidity:    12 * time.Hour,
	}, nil)
	return svc
}

func TestAddToQueueDefaultsDateToToday(t *testing.T) {
	store := newFakeStore()
	sink := &captureSink{}
	board := &captureBoard{}
	svc := newTestService(store, nil, sink).WithBoard(board)

	created, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, DateOf(time.Now().UTC()), created.AppointmentDate)
	assert.Equal(t, 1, created.QueueNumber)
	assert.Equal(t, StatusWaiting, created.Status)
	assert.Equal(t, CheckupPending, created.CheckupStatus)
	assert.Contains(t, sink.actions(), "queue.created")
	assert.Equal(t, 1, board.published)
}

func TestAddToQueueSequentialNumbers(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	// Keep the test stable regardless of wall clock.
	svc.WithClock(func() time.Time { return day })

	for want := 1; want <= 3; want++ {
		created, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), day)
		require.NoError(t, err)
		assert.Equal(t, want, created.QueueNumber)
	}
}

func TestAddToQueueRejectsPastDate(t *testing.T) {
	svc := newTestService(newFakeStore(), nil, &captureSink{})
	past := time.Now().UTC().AddDate(0, 0, -2)

	_, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), past)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestStartValidatesDoctor(t *testing.T) {
	store := newFakeStore()
	doctorID := uuid.New()
	nurseID := uuid.New()
	r := &fakeRoster{
		doctors: map[uuid.UUID]bool{doctorID: true},
		onDuty:  map[uuid.UUID]bool{},
	}
	svc := newTestService(store, r, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	// Not a doctor at all.
	_, err = svc.Start(context.Background(), "org-1", entry.ID, &nurseID)
	assert.ErrorIs(t, err, ErrDoctorNotEligible)

	// Doctor, but not rostered for the day.
	_, err = svc.Start(context.Background(), "org-1", entry.ID, &doctorID)
	assert.ErrorIs(t, err, ErrDoctorNotOnDuty)

	// Entry untouched by the rejected attempts.
	got, err := store.Get(context.Background(), "org-1", entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)

	// On duty now: the start goes through.
	r.onDuty[doctorID] = true
	started, err := svc.Start(context.Background(), "org-1", entry.ID, &doctorID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.DoctorID)
	assert.Equal(t, doctorID, *started.DoctorID)
}

func TestStartWithoutDoctorSkipsRosterLookup(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeRoster{}, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	started, err := svc.Start(context.Background(), "org-1", entry.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	assert.Nil(t, started.DoctorID)
}

func TestCompleteRequiresInProgress(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), "org-1", entry.ID)
	ite, ok := IsInvalidTransition(err)
	require.True(t, ok)
	assert.Equal(t, StatusWaiting, ite.Current)
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})
	ctx := context.Background()

	entry, err := svc.AddToQueue(ctx, "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	_, err = svc.Start(ctx, "org-1", entry.ID, nil)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "org-1", entry.ID)
	require.NoError(t, err)

	// Completed is terminal: skip, start, cancel all bounce, repeatedly.
	for i := 0; i < 2; i++ {
		_, err = svc.Skip(ctx, "org-1", entry.ID)
		_, ok := IsInvalidTransition(err)
		assert.True(t, ok, "skip after complete should be rejected")

		_, err = svc.Start(ctx, "org-1", entry.ID, nil)
		_, ok = IsInvalidTransition(err)
		assert.True(t, ok, "start after complete should be rejected")
	}
}

func TestSendToEmergencyUsesAcuteTier(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})
	ctx := context.Background()

	entry, err := svc.AddToQueue(ctx, "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	updated, err := svc.SendToEmergency(ctx, "org-1", entry.ID)
	require.NoError(t, err)
	assert.True(t, updated.Emergency)
	assert.Equal(t, 100, updated.EmergencyPriority)
	assert.Equal(t, StatusWaiting, updated.Status, "emergency flag must not change queue status")
}

func TestPrioritizeEmergencyRejectsNegative(t *testing.T) {
	svc := newTestService(newFakeStore(), nil, &captureSink{})
	_, err := svc.PrioritizeEmergency(context.Background(), "org-1", uuid.New(), -1)
	assert.Error(t, err)
}

func TestListDayOrdersEmergencyFirst(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})
	ctx := context.Background()
	day := DateOf(time.Now().UTC())

	first, err := svc.AddToQueue(ctx, "org-1", uuid.New(), day)
	require.NoError(t, err)
	_, err = svc.AddToQueue(ctx, "org-1", uuid.New(), day)
	require.NoError(t, err)
	third, err := svc.AddToQueue(ctx, "org-1", uuid.New(), day)
	require.NoError(t, err)

	_, err = svc.PrioritizeEmergency(ctx, "org-1", third.ID, 2)
	require.NoError(t, err)

	ordered, err := svc.ListDay(ctx, "org-1", day)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, third.ID, ordered[0].ID)
	assert.Equal(t, first.ID, ordered[1].ID)
}

func TestUpdateEmergencyStatuses(t *testing.T) {
	store := newFakeStore()
	store.clearedCount = 4
	sink := &captureSink{}
	svc := newTestService(store, nil, sink)

	fixed := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	cleared, err := svc.UpdateEmergencyStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), cleared)
	assert.Equal(t, fixed.Add(-12*time.Hour), store.clearCutoff)
	assert.Contains(t, sink.actions(), "maintenance.emergency_sweep")
}

func TestUpdateEmergencyStatusesQuietWhenNothingCleared(t *testing.T) {
	store := newFakeStore()
	sink := &captureSink{}
	svc := newTestService(store, nil, sink)

	cleared, err := svc.UpdateEmergencyStatuses(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cleared)
	assert.Empty(t, sink.events)
}

func TestDuplicateActivePatientRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})
	ctx := context.Background()

	patient := uuid.New()
	_, err := svc.AddToQueue(ctx, "org-1", patient, time.Time{})
	require.NoError(t, err)

	_, err = svc.AddToQueue(ctx, "org-1", patient, time.Time{})
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}
