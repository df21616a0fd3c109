package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/holofab/internal/cgh"
	"github.com/banshee-data/holofab/internal/pattern"
)

// Stats counts what the runner has done.
type Stats struct {
	Requests   uint64 `json:"requests"`
	Computes   uint64 `json:"computes"`
	Superseded uint64 `json:"superseded"`
	Failed     uint64 `json:"failed"`
	LastError  string `json:"last_error,omitempty"`
}

// Runner recomputes the hologram whenever the pattern or the calibration
// changes.
type Runner struct {
	pattern     *pattern.Pattern
	calibration *cgh.Calibration
	engine      *cgh.Engine

	kick chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	lastError string

	requests   atomic.Uint64
	computes   atomic.Uint64
	superseded atomic.Uint64
	failed     atomic.Uint64
}

// NewRunner wires a runner to its collaborators. Calibration writes
// request a recompute from the moment the runner exists; pattern events
// are consumed while Run is active.
func NewRunner(p *pattern.Pattern, c *cgh.Calibration, e *cgh.Engine) *Runner {
	r := &Runner{
		pattern:     p,
		calibration: c,
		engine:      e,
		kick:        make(chan struct{}, 1),
	}
	c.OnRecalculate(r.Request)
	return r
}

// Request asks for a recompute without blocking. Requests made while one
// is pending are coalesced, and a compute already running is cancelled
// because its result would be stale.
func (r *Runner) Request() {
	r.requests.Add(1)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
		r.superseded.Add(1)
		diagf("superseding in-flight compute")
	}
	r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	last := r.lastError
	r.mu.Unlock()
	return Stats{
		Requests:   r.requests.Load(),
		Computes:   r.computes.Load(),
		Superseded: r.superseded.Load(),
		Failed:     r.failed.Load(),
		LastError:  last,
	}
}

// ComputeNow computes the current pattern synchronously.
func (r *Runner) ComputeNow(ctx context.Context) (*cgh.Hologram, error) {
	return r.compute(ctx)
}

// compute takes the snapshot before the frame so that a calibration write
// landing in between is seen by the compute rather than lost.
func (r *Runner) compute(ctx context.Context) (*cgh.Hologram, error) {
	snap := r.pattern.Snapshot()
	frame := r.calibration.Frame()
	h, err := r.engine.Compute(ctx, frame, snap.Traps)
	// Caches finished before a cancellation are still valid for their
	// revisions.
	adopted := r.pattern.Adopt(snap)
	if err != nil {
		return nil, err
	}
	r.computes.Add(1)
	tracef("hologram %d: %d traps, version %d, %d adopted, %s", h.Sequence, h.Traps, snap.Version, adopted, h.Duration)
	return h, nil
}

func (r *Runner) start(ctx context.Context, done chan<- error) {
	cctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	go func() {
		_, err := r.compute(cctx)
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		done <- err
	}()
}

func (r *Runner) finish(err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		diagf("compute cancelled")
	default:
		r.failed.Add(1)
		r.mu.Lock()
		r.lastError = err.Error()
		r.mu.Unlock()
		opsf("compute failed: %v", err)
	}
}

// Run consumes change notifications until ctx is done. It computes the
// initial hologram on start.
func (r *Runner) Run(ctx context.Context) error {
	subID, events := r.pattern.Subscribe()
	defer r.pattern.Unsubscribe(subID)

	done := make(chan error, 1)
	computing, pending := false, false
	r.Request()

	for {
		select {
		case <-ctx.Done():
			if computing {
				r.finish(<-done)
			}
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// every hologram-affecting edit ends with exactly one Changed
			if ev.Type == pattern.Changed {
				r.Request()
			}

		case <-r.kick:
			if computing {
				pending = true
				continue
			}
			computing = true
			r.start(ctx, done)

		case err := <-done:
			computing = false
			r.finish(err)
			if pending && ctx.Err() == nil {
				pending = false
				computing = true
				r.start(ctx, done)
			}
		}
	}
}
