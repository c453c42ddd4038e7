// Package state persists the summary of the most recent feeding job so
// that status survives a restart.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/catfeeder/internal/feeding"
)

// ErrNoHistory is returned by LoadLast before any job has been recorded.
var ErrNoHistory = errors.New("state: no feeding recorded")

// Repository stores the last feeding summary.
type Repository interface {
	SaveLast(ctx context.Context, s feeding.Summary) error
	LoadLast(ctx context.Context) (feeding.Summary, error)
}

// SQLiteRepository keeps the last feeding in the single-row last_feed table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveLast replaces the stored summary.
func (r *SQLiteRepository) SaveLast(ctx context.Context, s feeding.Summary) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO last_feed (id, job_id, trigger_by, slot, slot_index, portions, status, started_at, finished_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   job_id = excluded.job_id,
		   trigger_by = excluded.trigger_by,
		   slot = excluded.slot,
		   slot_index = excluded.slot_index,
		   portions = excluded.portions,
		   status = excluded.status,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at`,
		s.JobID, string(s.Trigger), s.Slot, s.SlotIndex, s.Portions, string(s.Status),
		s.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(s.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("saving last feed: %w", err)
	}
	return nil
}

// LoadLast returns the stored summary, or ErrNoHistory.
func (r *SQLiteRepository) LoadLast(ctx context.Context) (feeding.Summary, error) {
	var (
		s          feeding.Summary
		trigger    string
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT job_id, trigger_by, slot, slot_index, portions, status, started_at, finished_at
		 FROM last_feed WHERE id = 1`,
	).Scan(&s.JobID, &trigger, &s.Slot, &s.SlotIndex, &s.Portions, &status, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return feeding.Summary{}, ErrNoHistory
	}
	if err != nil {
		return feeding.Summary{}, fmt.Errorf("loading last feed: %w", err)
	}

	s.Trigger = feeding.Trigger(trigger)
	s.Status = feeding.Status(status)
	if s.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return feeding.Summary{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if finishedAt.Valid {
		if s.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String); err != nil {
			return feeding.Summary{}, fmt.Errorf("parsing finished_at: %w", err)
		}
	}
	return s, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
