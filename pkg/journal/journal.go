// Package journal keeps a persistent history of filter and export jobs in
// a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ctslices/pkg/tasks"
)

// Journal records job state changes. It implements tasks.Journal.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database at path. Use ":memory:"
// for a throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.createJobsTable(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// createJobsTable creates the jobs table if it doesn't exist
func (j *Journal) createJobsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		state INTEGER NOT NULL,
		percent REAL NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	)`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Record inserts or updates the job's row
func (j *Journal) Record(rec tasks.JobRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.UTC()
	}

	query := `
	INSERT OR REPLACE INTO jobs (id, name, state, percent, error, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.Exec(query, rec.ID, rec.Name, int(rec.State), rec.Percent, rec.Error,
		rec.CreatedAt.UTC(), finished)
	return err
}

// List returns all recorded jobs, oldest first
func (j *Journal) List(ctx context.Context) ([]tasks.JobRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
	SELECT id, name, state, percent, COALESCE(error, ''), created_at, finished_at
	FROM jobs
	ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tasks.JobRecord
	for rows.Next() {
		var rec tasks.JobRecord
		var state int
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &state, &rec.Percent, &rec.Error, &rec.CreatedAt, &finished); err != nil {
			return nil, err
		}
		rec.State = tasks.JobState(state)
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune removes finished jobs older than the given age
func (j *Journal) Prune(ctx context.Context, age time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?",
		time.Now().Add(-age).UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
