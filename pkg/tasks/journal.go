package tasks

import "time"

// JobRecord is a snapshot of a job written to a Journal on each state change
type JobRecord struct {
	ID         string
	Name       string
	State      JobState
	Percent    float64
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Journal persists job history. Implementations must be safe for use from
// the worker goroutine.
type Journal interface {
	Record(rec JobRecord) error
}
