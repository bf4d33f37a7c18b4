package filters

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ctslices/internal/models"
)

// ProgressFunc receives the completed share of a run as a percentage
type ProgressFunc func(percent float64)

// Engine applies filter requests. It holds no per-run state, so one engine
// can serve any number of sequential runs.
type Engine struct {
	numCores int
	logger   logrus.FieldLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithNumCores sets how many workers process z-slabs of full-volume runs
func WithNumCores(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.numCores = n
		}
	}
}

// WithLogger sets the logger used for run summaries
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine using all CPU cores by default
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		numCores: runtime.NumCPU(),
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs the request against src and returns a new volume. The output
// starts as a deep copy of src, so in sparse scope every voxel off the
// active planes keeps its source value. src is only read. On error or
// cancellation the partial output is dropped.
func (e *Engine) Apply(ctx context.Context, req Request, src *models.Volume, progress ProgressFunc) (*Result, error) {
	if err := req.Validate(src); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(float64) {}
	}

	log := e.logger.WithFields(logrus.Fields{
		"filter": req.Kind.String(),
		"scope":  req.Scope.String(),
		"planes": req.Planes.String(),
	})
	log.Debug("Applying filter")
	start := time.Now()

	out := src.Clone()
	var err error
	switch req.Kind {
	case Median:
		err = e.median(ctx, req, src, out, progress)
	case Gradient:
		err = gradient(ctx, req, src, out, progress)
	case Threshold:
		err = threshold(ctx, req, src, out, progress)
	case MIP:
		err = mip(ctx, req, src, out, progress)
	}
	if err != nil {
		return nil, err
	}
	progress(100)

	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Filter applied")
	return &Result{Volume: out, Sparse: req.Sparse(), Request: req}, nil
}

// checkCancelled converts a done context into ErrCancelled
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("filter run stopped: %w", models.ErrCancelled)
	}
	return nil
}

// tracker turns completed work units into monotonic percentages. It is
// safe for concurrent use by the median workers.
type tracker struct {
	mu    sync.Mutex
	total int
	done  int
	last  float64
	fn    ProgressFunc
}

func newTracker(total int, fn ProgressFunc) *tracker {
	if total <= 0 {
		total = 1
	}
	return &tracker{total: total, fn: fn, last: -1}
}

// step records n finished units and reports the new percentage once it
// has advanced by at least a whole percent
func (t *tracker) step(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done += n
	if t.done > t.total {
		t.done = t.total
	}
	pct := float64(t.done*100/t.total)
	if pct > t.last {
		t.last = pct
		t.fn(pct)
	}
}

// forEachPlaneVoxel visits every voxel lying on an active plane exactly once,
// in raster order, together with the plane that owns it. Rows that do not
// cross the Y or Z plane contribute only their x == X voxel. The callback
// returns after each z-slice so callers can check for cancellation.
func forEachPlaneVoxel(ctx context.Context, v *models.Volume, p models.ActivePlanes, t *tracker, fn func(x, y, z int, axis models.Axis)) error {
	for z := 0; z < v.Depth; z++ {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		for y := 0; y < v.Height; y++ {
			if z != p.Z && y != p.Y {
				fn(p.X, y, z, models.AxisX)
				continue
			}
			for x := 0; x < v.Width; x++ {
				if axis, ok := p.PlaneOf(x, y, z); ok {
					fn(x, y, z, axis)
				}
			}
		}
		t.step(1)
	}
	return nil
}

// clamp limits i to [0, n)
func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
