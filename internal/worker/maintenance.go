package worker

import (
	"context"
	"time"

	"github.com/clinicops/clinic-platform/internal/queue"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

// EmergencySweeper clears emergency flags past their validity window.
type EmergencySweeper interface {
	UpdateEmergencyStatuses(ctx context.Context) (int64, error)
}

// ReminderDispatcher emails patients waiting on a clinic day.
type ReminderDispatcher interface {
	SendUpcomingReminders(ctx context.Context, day time.Time) (int, error)
}

// Maintenance runs the periodic queue upkeep: the emergency flag sweep
// on every tick, plus one reminder pass per day for the next day's
// queue. One instance per process; runs until the context is
// cancelled.
type Maintenance struct {
	sweeper   EmergencySweeper
	reminders ReminderDispatcher
	interval  time.Duration
	logger    *logging.Logger
	now       func() time.Time

	lastReminderDay string
}

// NewMaintenance creates the maintenance worker.
func NewMaintenance(sweeper EmergencySweeper, interval time.Duration, logger *logging.Logger) *Maintenance {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Maintenance{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithReminders attaches the daily reminder pass.
func (m *Maintenance) WithReminders(r ReminderDispatcher) *Maintenance {
	m.reminders = r
	return m
}

// WithClock overrides the time source for tests.
func (m *Maintenance) WithClock(now func() time.Time) *Maintenance {
	m.now = now
	return m
}

// Run ticks until ctx is cancelled. The first sweep happens
// immediately so a restart never leaves stale flags waiting a full
// interval.
func (m *Maintenance) Run(ctx context.Context) {
	m.logger.Info("maintenance worker started", "interval", m.interval)

	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("maintenance worker stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Maintenance) tick(ctx context.Context) {
	m.sweep(ctx)
	m.remind(ctx)
}

// remind runs at most once per calendar day, covering tomorrow's queue.
func (m *Maintenance) remind(ctx context.Context) {
	if m.reminders == nil {
		return
	}
	today := m.now().Format("2006-01-02")
	if today == m.lastReminderDay {
		return
	}

	tomorrow := queue.DateOf(m.now().AddDate(0, 0, 1))
	sent, err := m.reminders.SendUpcomingReminders(ctx, tomorrow)
	if err != nil {
		m.logger.Error("reminder pass failed", "error", err)
		return
	}
	m.lastReminderDay = today
	if sent > 0 {
		m.logger.Info("reminder pass done", "sent", sent, "day", tomorrow.Format("2006-01-02"))
	}
}

func (m *Maintenance) sweep(ctx context.Context) {
	cleared, err := m.sweeper.UpdateEmergencyStatuses(ctx)
	if err != nil {
		m.logger.Error("emergency sweep failed", "error", err)
		return
	}
	if cleared > 0 {
		m.logger.Info("emergency sweep done", "cleared", cleared)
	}
}
