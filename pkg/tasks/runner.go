// Package tasks runs filter and export jobs off the interactive goroutine.
// A Runner allows one job in flight, reports its progress and completion on
// a single ordered event stream, and supports best-effort cancellation.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ctslices/internal/models"
)

var (
	// ErrBusy is returned by Submit while another job is in flight
	ErrBusy = errors.New("another job is already running")

	// ErrStopped is returned by Submit after Close
	ErrStopped = errors.New("runner is stopped")
)

// JobState represents the current state of a job
type JobState int

const (
	StatePending JobState = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ProgressFunc reports the completed share of a job in percent
type ProgressFunc func(percent float64)

// WorkFunc is the body of a job. It must watch ctx for cancellation and
// must not touch state owned by the interactive goroutine.
type WorkFunc func(ctx context.Context, report ProgressFunc) (any, error)

// EventType distinguishes progress notifications from completion
type EventType int

const (
	EventProgress EventType = iota
	EventDone
)

// Event is delivered on the runner's event stream
type Event struct {
	JobID   string
	Name    string
	Type    EventType
	Percent float64

	// Value, Err and State are set on EventDone
	Value any
	Err   error
	State JobState

	handle *Handle
}

// Handle refers to a submitted job
type Handle struct {
	ID        string
	Name      string
	CreatedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	value any
	err   error
	state JobState
}

// Cancel requests cancellation. The job stops at its next check point.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed after the completion event has been delivered to the
// interactive goroutine
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome returns the job's result and error once Done is closed
func (h *Handle) Outcome() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

// State returns the job's current state
func (h *Handle) State() JobState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Wait blocks until the job's completion has been delivered or ctx ends
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) setState(s JobState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Runner executes at most one job at a time. A job occupies the runner
// until its completion has been delivered, so a Submit issued after
// Handle.Wait returns never sees ErrBusy.
type Runner struct {
	mu      sync.Mutex
	current *Handle

	quit      chan struct{}
	closeOnce sync.Once

	events  chan Event
	logger  logrus.FieldLogger
	journal Journal
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner's logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithJournal records every job state change
func WithJournal(j Journal) Option {
	return func(r *Runner) {
		r.journal = j
	}
}

// WithEventBuffer sets the capacity of the event stream
func WithEventBuffer(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

// NewRunner creates an idle runner
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		events: make(chan Event, 64),
		quit:   make(chan struct{}),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events returns the ordered stream of progress and completion events.
// It must be drained by a single consumer, the interactive goroutine.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// Close stops accepting jobs. A job still running finishes on its own and
// its completion is settled on the handle instead of the event stream.
func (r *Runner) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
}

// Busy reports whether a job is in flight or its completion is undelivered
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Submit starts work on a new goroutine and returns immediately. A second
// submission while a job is in flight is rejected with ErrBusy.
func (r *Runner) Submit(name string, work WorkFunc) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.quit:
		return nil, fmt.Errorf("cannot start %s: %w", name, ErrStopped)
	default:
	}
	if r.current != nil {
		return nil, fmt.Errorf("cannot start %s while %s is running: %w", name, r.current.Name, ErrBusy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
	}
	r.current = h
	r.record(h, 0, nil)

	r.logger.WithFields(logrus.Fields{"job": h.ID, "name": name}).Debug("Job submitted")
	go r.run(ctx, h, work)
	return h, nil
}

func (r *Runner) run(ctx context.Context, h *Handle, work WorkFunc) {
	defer h.cancel()

	var last float64 = -1
	report := func(pct float64) {
		pct = min(max(pct, 0), 100)
		if pct <= last {
			return
		}
		last = pct
		// Progress is advisory: drop it rather than stall the worker when
		// the interactive goroutine lags behind.
		select {
		case r.events <- Event{JobID: h.ID, Name: h.Name, Type: EventProgress, Percent: pct}:
		default:
		}
	}

	value, err := safeCall(ctx, work, report)

	state := StateCompleted
	switch {
	case err == nil:
	case models.KindOf(err) == models.KindCancelled:
		state = StateCancelled
	default:
		state = StateFailed
	}
	h.setState(state)
	r.record(h, max(last, 0), err)

	r.logger.WithFields(logrus.Fields{"job": h.ID, "name": h.Name, "state": state.String()}).Debug("Job finished")

	// The runner stays busy until Deliver, so the completion always
	// precedes any event of the next job.
	select {
	case r.events <- Event{
		JobID: h.ID, Name: h.Name, Type: EventDone, Percent: max(last, 0),
		Value: value, Err: err, State: state, handle: h,
	}:
	case <-r.quit:
		r.logger.WithField("job", h.ID).Debug("Runner stopped, completion settled without delivery")
		r.settle(h, value, err)
	}
}

// Deliver finalises a completion event on the interactive goroutine: it
// publishes the outcome on the handle, frees the runner and closes Done.
// Progress events are ignored.
func (r *Runner) Deliver(ev Event) {
	if ev.Type != EventDone || ev.handle == nil {
		return
	}
	r.settle(ev.handle, ev.Value, ev.Err)
}

// settle makes the runner idle before Done is closed, so whoever wakes on
// Done can submit the next job at once
func (r *Runner) settle(h *Handle, value any, err error) {
	h.mu.Lock()
	h.value, h.err = value, err
	h.mu.Unlock()

	r.mu.Lock()
	if r.current == h {
		r.current = nil
	}
	r.mu.Unlock()

	close(h.done)
}

// safeCall runs work and converts a panic into an error
func safeCall(ctx context.Context, work WorkFunc, report ProgressFunc) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value, err = nil, fmt.Errorf("panic in job: %v", rec)
		}
	}()
	return work(ctx, report)
}

func (r *Runner) record(h *Handle, pct float64, err error) {
	if r.journal == nil {
		return
	}
	rec := JobRecord{
		ID:        h.ID,
		Name:      h.Name,
		State:     h.State(),
		Percent:   pct,
		CreatedAt: h.CreatedAt,
	}
	if rec.State != StateRunning {
		rec.FinishedAt = time.Now()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := r.journal.Record(rec); jerr != nil {
		r.logger.WithError(jerr).WithField("job", h.ID).Warn("Failed to record job")
	}
}
