package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Stats holds per-clinic queue counts over a date range.
type Stats struct {
	OrgID      string `json:"org_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Total      int64  `json:"total"`
	Waiting    int64  `json:"waiting"`
	InProgress int64  `json:"in_progress"`
	Completed  int64  `json:"completed"`
	Cancelled  int64  `json:"cancelled"`
	Archived   int64  `json:"archived"`
	Emergency  int64  `json:"emergency"`
}

// statsDB defines the database interface needed by StatsRepository.
type statsDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatsRepository aggregates queue metrics from the database.
type StatsRepository struct {
	db statsDB
}

// NewStatsRepository creates a stats repository.
func NewStatsRepository(db statsDB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetStats returns counts by status and emergency flag for entries
// whose appointment date falls in [from, to].
func (r *StatsRepository) GetStats(ctx context.Context, orgID string, from, to time.Time) (*Stats, error) {
	stats := &Stats{
		OrgID: orgID,
		From:  from.Format("2006-01-02"),
		To:    to.Format("2006-01-02"),
	}

	row := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'archived'),
			COUNT(*) FILTER (WHERE emergency)
		FROM queue_entries
		WHERE org_id = $1 AND appointment_date >= $2 AND appointment_date <= $3`,
		orgID, from, to)

	if err := row.Scan(
		&stats.Total, &stats.Waiting, &stats.InProgress,
		&stats.Completed, &stats.Cancelled, &stats.Archived, &stats.Emergency,
	); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}
