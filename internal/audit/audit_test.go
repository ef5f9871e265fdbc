package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFillsDefaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	queueID := uuid.New()
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(pgxmock.AnyArg(), "org-1", "queue.started", "staff-9", &queueID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewRecorder(mock)
	err = rec.Record(context.Background(), Event{
		OrgID:   "org-1",
		Action:  "queue.started",
		Actor:   "staff-9",
		QueueID: queueID,
		Details: map[string]any{"queue_number": 3},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWithoutQueueID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(pgxmock.AnyArg(), "org-1", "maintenance.emergency_sweep", "", (*uuid.UUID)(nil), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewRecorder(mock)
	err = rec.Record(context.Background(), Event{OrgID: "org-1", Action: "maintenance.emergency_sweep"})
	require.NoError(t, err)
}

func TestNopSink(t *testing.T) {
	var sink Sink = Nop{}
	assert.NoError(t, sink.Record(context.Background(), Event{Action: "anything"}))
}
