// Package session is the interactive layer of the viewer. A Session owns
// the displayed grid and the active planes, submits filter and export jobs
// to a background runner and applies their results on its own goroutine.
//
// Run must be started before any other method is called. Every public
// method is marshalled onto the Run goroutine, so the grid handles, the
// overlay state and the renderer are only ever touched from there.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"ctslices/internal/models"
	"ctslices/pkg/dicom"
	"ctslices/pkg/filters"
	"ctslices/pkg/tasks"
)

// ErrClosed is returned by calls made after the session stopped
var ErrClosed = errors.New("session is closed")

// Renderer displays the working grid. It is only called from the session
// goroutine.
type Renderer interface {
	SetVolume(v *models.Volume)
	SetSlice(axis models.Axis, index int)
	Redraw() error
}

type nopRenderer struct{}

func (nopRenderer) SetVolume(*models.Volume) {}

func (nopRenderer) SetSlice(models.Axis, int) {}

func (nopRenderer) Redraw() error { return nil }

// Operation names the kind of background job
type Operation int

const (
	OpFilter Operation = iota
	OpExport
)

func (o Operation) String() string {
	if o == OpExport {
		return "export"
	}
	return "filter"
}

// Completion reports how a job ended and what it did to the session
type Completion struct {
	JobID string
	Name  string
	Op    Operation
	State tasks.JobState
	Err   error

	// Result is set for successful filter jobs
	Result *filters.Result

	// Paths lists the files written by an export, also when it stopped early
	Paths []string

	// Stale is set when a sparse result was discarded because the user
	// navigated while it was computed
	Stale bool
}

type pendingJob struct {
	handle *tasks.Handle
	op     Operation
	navSeq uint64
}

// Session coordinates the displayed grid with background jobs
type Session struct {
	logger     logrus.FieldLogger
	renderer   Renderer
	engine     *filters.Engine
	runner     *tasks.Runner
	exporter   *dicom.Exporter
	template   dicom.Metadata
	extension  string
	onComplete func(Completion)
	onProgress func(tasks.Event)

	calls     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// owned by the Run goroutine
	snap    Snapshot
	state   OverlayState
	planes  models.ActivePlanes
	navSeq  uint64
	pending *pendingJob
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRenderer sets the display collaborator
func WithRenderer(r Renderer) Option {
	return func(s *Session) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithEngine sets the filter engine
func WithEngine(e *filters.Engine) Option {
	return func(s *Session) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithRunner sets the background runner. The session must be the only
// consumer of its events.
func WithRunner(r *tasks.Runner) Option {
	return func(s *Session) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithExporter sets the DICOM exporter
func WithExporter(e *dicom.Exporter) Option {
	return func(s *Session) {
		if e != nil {
			s.exporter = e
		}
	}
}

// WithMetadata sets the patient and study template used for exports
func WithMetadata(m dicom.Metadata) Option {
	return func(s *Session) {
		s.template = m
	}
}

// WithExtension sets the exported file extension
func WithExtension(ext string) Option {
	return func(s *Session) {
		s.extension = ext
	}
}

// OnComplete registers a hook called on the session goroutine after each
// job's result has been applied
func OnComplete(fn func(Completion)) Option {
	return func(s *Session) {
		s.onComplete = fn
	}
}

// OnProgress registers a hook called on the session goroutine for each
// progress event
func OnProgress(fn func(tasks.Event)) Option {
	return func(s *Session) {
		s.onProgress = fn
	}
}

// New creates a session with no volume loaded
func New(opts ...Option) *Session {
	s := &Session{
		logger:    logrus.StandardLogger(),
		renderer:  nopRenderer{},
		template:  dicom.DefaultMetadata(),
		extension: "dcm",
		calls:     make(chan func()),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = filters.NewEngine(filters.WithLogger(s.logger))
	}
	if s.runner == nil {
		s.runner = tasks.NewRunner(tasks.WithLogger(s.logger))
	}
	if s.exporter == nil {
		s.exporter = dicom.NewExporter(dicom.WithLogger(s.logger))
	}
	return s
}

// Run is the interactive loop. It applies calls from the public methods
// and job events in arrival order until ctx ends or Close is called. A job
// still in flight when Run returns is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer func() {
		if s.pending != nil {
			s.pending.handle.Cancel()
		}
		// nobody reads the event stream any more
		s.runner.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case fn := <-s.calls:
			fn()
		case ev := <-s.runner.Events():
			s.handleEvent(ev)
		}
	}
}

// Close stops the Run loop and cancels any job in flight
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
	return nil
}

// do runs fn on the session goroutine and waits for it to return
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.calls <- func() { defer close(done); fn() }:
	case <-s.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// SetVolume installs a copy of v as the displayed grid, dropping any
// previous grid and centring the active planes. Later changes to v are not
// seen by the session.
func (s *Session) SetVolume(v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
	}
	return s.install(v.Clone())
}

// install hands v, which nobody else references, to the session goroutine
func (s *Session) install(v *models.Volume) error {
	var err error
	if derr := s.do(func() { err = s.setVolume(v) }); derr != nil {
		return derr
	}
	return err
}

// LoadVolume reads a DICOM series from the directory at path and displays
// it. Loading is refused while a job is in flight.
func (s *Session) LoadVolume(ctx context.Context, path string) error {
	busy, err := s.Busy()
	if err != nil {
		return err
	}
	if busy {
		return fmt.Errorf("cannot load %s: %w", path, tasks.ErrBusy)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrIOFailure, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", models.ErrIOFailure, path)
	}

	v, err := dicom.LoadSeries(ctx, path)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"path": path, "dims": fmt.Sprintf("%dx%dx%d", v.Width, v.Height, v.Depth)}).Info("Loaded volume")
	return s.install(v)
}

// ApplyFilter submits req against the working grid using the current
// active planes and returns immediately. An overlay left by an earlier
// sparse filter is dropped first.
func (s *Session) ApplyFilter(req filters.Request) (*tasks.Handle, error) {
	var h *tasks.Handle
	var err error
	if derr := s.do(func() { h, err = s.applyFilter(req) }); derr != nil {
		return nil, derr
	}
	return h, err
}

// ExportVolume writes the working grid as a DICOM series named after prefix
func (s *Session) ExportVolume(prefix string) (*tasks.Handle, error) {
	var h *tasks.Handle
	var err error
	if derr := s.do(func() { h, err = s.exportVolume(prefix) }); derr != nil {
		return nil, derr
	}
	return h, err
}

// NavigateSlice moves the active plane of axis to index
func (s *Session) NavigateSlice(axis models.Axis, index int) error {
	var err error
	if derr := s.do(func() { err = s.navigate(axis, index) }); derr != nil {
		return derr
	}
	return err
}

// CurrentGrid returns a copy of the displayed grid, or nil before a volume
// is loaded
func (s *Session) CurrentGrid() *models.Volume {
	var v *models.Volume
	s.do(func() { v = s.snap.Working() })
	return cloneOf(v)
}

// BackupGrid returns a copy of the last full-volume grid
func (s *Session) BackupGrid() *models.Volume {
	var v *models.Volume
	s.do(func() { v = s.snap.Backup() })
	return cloneOf(v)
}

// cloneOf copies a grid off the session goroutine. Session grids are
// replaced, never written, so reading one here is safe.
func cloneOf(v *models.Volume) *models.Volume {
	if v == nil {
		return nil
	}
	return v.Clone()
}

// Planes returns the active planes
func (s *Session) Planes() models.ActivePlanes {
	var p models.ActivePlanes
	s.do(func() { p = s.planes })
	return p
}

// State returns the overlay state
func (s *Session) State() OverlayState {
	var st OverlayState
	s.do(func() { st = s.state })
	return st
}

// Cancel requests cancellation of the job in flight. It reports whether
// there was one.
func (s *Session) Cancel() bool {
	var found bool
	s.do(func() {
		if s.pending != nil {
			s.pending.handle.Cancel()
			found = true
		}
	})
	return found
}

// Busy reports whether a job's completion is still outstanding
func (s *Session) Busy() (bool, error) {
	var busy bool
	if err := s.do(func() { busy = s.pending != nil }); err != nil {
		return false, err
	}
	return busy, nil
}

func (s *Session) setVolume(v *models.Volume) error {
	if s.pending != nil {
		return fmt.Errorf("cannot replace the volume: %w", tasks.ErrBusy)
	}
	s.snap.Reset(v)
	s.state = Clean
	s.planes = models.CenterPlanes(v)
	s.navSeq++

	s.renderer.SetVolume(v)
	for _, axis := range models.Axes {
		s.renderer.SetSlice(axis, s.planes.Get(axis))
	}
	return s.redraw()
}

func (s *Session) applyFilter(req filters.Request) (*tasks.Handle, error) {
	if s.pending != nil {
		return nil, fmt.Errorf("cannot start %s: %w", req.Kind, tasks.ErrBusy)
	}
	src := s.snap.Working()
	if src == nil {
		return nil, fmt.Errorf("no volume loaded: %w", models.ErrInvalidParameters)
	}

	req.Planes = s.planes
	if err := req.Validate(src); err != nil {
		return nil, err
	}

	if s.state == Overlaid {
		s.restore()
		src = s.snap.Working()
	}

	engine := s.engine
	h, err := s.runner.Submit(req.String(), func(ctx context.Context, report tasks.ProgressFunc) (any, error) {
		return engine.Apply(ctx, req, src, filters.ProgressFunc(report))
	})
	if err != nil {
		return nil, err
	}
	s.pending = &pendingJob{handle: h, op: OpFilter, navSeq: s.navSeq}

	s.logger.WithFields(logrus.Fields{"job": h.ID, "filter": req.String()}).Info("Filter submitted")
	return h, nil
}

func (s *Session) exportVolume(prefix string) (*tasks.Handle, error) {
	if s.pending != nil {
		return nil, fmt.Errorf("cannot export: %w", tasks.ErrBusy)
	}
	src := s.snap.Working()
	if src == nil {
		return nil, fmt.Errorf("no volume loaded: %w", models.ErrInvalidParameters)
	}

	job := dicom.ExportJob{Source: src, Prefix: prefix, Extension: s.extension, Template: s.template}
	exporter := s.exporter
	h, err := s.runner.Submit("DICOM export", func(ctx context.Context, report tasks.ProgressFunc) (any, error) {
		return exporter.Export(ctx, job, report)
	})
	if err != nil {
		return nil, err
	}
	s.pending = &pendingJob{handle: h, op: OpExport, navSeq: s.navSeq}

	s.logger.WithFields(logrus.Fields{"job": h.ID, "prefix": prefix}).Info("Export submitted")
	return h, nil
}

func (s *Session) navigate(axis models.Axis, index int) error {
	v := s.snap.Working()
	if v == nil {
		return fmt.Errorf("no volume loaded: %w", models.ErrInvalidParameters)
	}
	if index < 0 || index >= v.Extent(axis) {
		return fmt.Errorf("%s index %d outside [0, %d): %w", axis, index, v.Extent(axis), models.ErrInvalidParameters)
	}

	// The overlay belongs to the old planes and is dropped before the new
	// index takes effect, whichever axis moved.
	if s.state == Overlaid {
		s.restore()
	}
	s.planes = s.planes.With(axis, index)
	s.navSeq++

	s.renderer.SetSlice(axis, index)
	return s.redraw()
}

// restore drops the overlay and shows the backup grid
func (s *Session) restore() {
	s.snap.Restore()
	s.state = Clean
	s.renderer.SetVolume(s.snap.Working())
	s.logger.Debug("Overlay discarded")
}

func (s *Session) redraw() error {
	if err := s.renderer.Redraw(); err != nil {
		s.logger.WithError(err).Warn("Redraw failed")
		return err
	}
	return nil
}

func (s *Session) handleEvent(ev tasks.Event) {
	if ev.Type == tasks.EventProgress {
		s.logger.WithFields(logrus.Fields{"job": ev.JobID, "progress": ev.Percent}).Debug("Job progress")
		if s.onProgress != nil {
			s.onProgress(ev)
		}
		return
	}

	p := s.pending
	s.pending = nil

	c := Completion{JobID: ev.JobID, Name: ev.Name, State: ev.State, Err: ev.Err}
	if p != nil {
		c.Op = p.op
	}
	log := s.logger.WithFields(logrus.Fields{"job": ev.JobID, "name": ev.Name, "state": ev.State.String()})

	switch c.Op {
	case OpExport:
		c.Paths, _ = ev.Value.([]string)
		if ev.Err != nil {
			log.WithError(ev.Err).WithField("written", len(c.Paths)).Warn("Export did not finish")
		}
	case OpFilter:
		if ev.Err != nil {
			log.WithError(ev.Err).Warn("Filter did not finish")
			break
		}
		res, _ := ev.Value.(*filters.Result)
		c.Result = res
		if res == nil {
			break
		}
		if res.Sparse && p != nil && p.navSeq != s.navSeq {
			c.Stale = true
			log.Info("Discarded overlay computed for planes no longer shown")
			break
		}
		s.applyResult(res)
		stats := s.snap.Working().Stats()
		log.WithFields(logrus.Fields{
			"overlay": s.state.String(),
			"mean":    stats.Mean,
			"stddev":  stats.StdDev,
		}).Info("Filter result applied")
	}

	if s.onComplete != nil {
		s.onComplete(c)
	}
	s.runner.Deliver(ev)
}

// applyResult installs a filter result. Full-volume results become the new
// backup; sparse results overlay the working grid only.
func (s *Session) applyResult(res *filters.Result) {
	s.snap.Swap(res.Volume)
	if res.Sparse {
		s.state = Overlaid
	} else {
		s.snap.Promote()
		s.state = Clean
	}
	s.renderer.SetVolume(s.snap.Working())
	s.redraw()
}
