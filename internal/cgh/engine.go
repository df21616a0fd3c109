package cgh

import (
	"context"
	"image"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/holofab/internal/monitoring"
	"github.com/banshee-data/holofab/internal/timeutil"
	"github.com/banshee-data/holofab/internal/trap"
)

// ZeroPhaseByte is the quantized value of a pixel whose field has zero
// magnitude, where the phase is undefined.
const ZeroPhaseByte = 127

// Hologram is a computed 8-bit phase pattern.
type Hologram struct {
	Sequence   uint64
	Height     int
	Width      int
	Phase      []byte // row-major
	Traps      int
	Duration   time.Duration
	ComputedAt time.Time
}

// Image returns the hologram as a grayscale image sharing Phase.
func (h *Hologram) Image() *image.Gray {
	return &image.Gray{
		Pix:    h.Phase,
		Stride: h.Width,
		Rect:   image.Rect(0, 0, h.Width, h.Height),
	}
}

// Sink receives every hologram the engine completes.
type Sink interface {
	HologramReady(h *Hologram)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(h *Hologram)

func (f SinkFunc) HologramReady(h *Hologram) { f(h) }

// Engine synthesizes holograms. Compute may be called from one goroutine
// at a time per set of traps; the traps passed in are expected to be
// snapshot clones and receive the computed caches.
type Engine struct {
	clock      timeutil.Clock
	structures *Registry
	window     bool

	sinksMu sync.RWMutex
	sinks   []Sink

	current        atomic.Pointer[Hologram]
	sequence       atomic.Uint64
	fieldEvals     atomic.Int64
	structureEvals atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to time computes.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRegistry sets the structure registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.structures = r }
}

// WithApertureCompensation scales each trap amplitude by Frame.Window.
func WithApertureCompensation(enabled bool) Option {
	return func(e *Engine) { e.window = enabled }
}

// NewEngine returns an engine with the built-in structures.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:      timeutil.RealClock{},
		structures: NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Structures returns the engine's structure registry.
func (e *Engine) Structures() *Registry { return e.structures }

// AddSink registers a receiver for completed holograms.
func (e *Engine) AddSink(s Sink) {
	e.sinksMu.Lock()
	defer e.sinksMu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Current returns the most recently completed hologram, or nil.
func (e *Engine) Current() *Hologram { return e.current.Load() }

// Evaluations returns how many field and structure arrays have been
// computed, as opposed to served from cache.
func (e *Engine) Evaluations() (fields, structures int64) {
	return e.fieldEvals.Load(), e.structureEvals.Load()
}

// fieldOf returns the focusing field of t, from cache when t is clean.
func (e *Engine) fieldOf(f *Frame, t *trap.Trap) []complex128 {
	if field, ok := t.CachedField(f.Revision); ok {
		return field
	}
	g := f.Geometry
	r := f.Transform(t.R())
	amplitude := t.Amplitude()
	if e.window {
		amplitude *= f.Window(r)
	}
	a := complex(amplitude, 0) * cmplx.Exp(complex(0, t.Phase()))

	z2 := complex(r.Z*r.Z, 0)
	ex := make([]complex128, g.Width)
	for j := range ex {
		ex[j] = cmplx.Exp(g.IQX[j]*complex(r.X, 0) + g.IQXZ[j]*z2)
	}
	field := make([]complex128, g.Height*g.Width)
	for i := 0; i < g.Height; i++ {
		ey := a * cmplx.Exp(g.IQY[i]*complex(r.Y, 0)+g.IQYZ[i]*z2)
		row := field[i*g.Width : (i+1)*g.Width]
		for j, v := range ex {
			row[j] = ey * v
		}
	}
	t.StoreField(field, f.Revision)
	e.fieldEvals.Add(1)
	return field
}

// structureOf returns the mode structure of t, from cache when t is
// clean. A nil structure is the uniform mode.
func (e *Engine) structureOf(f *Frame, t *trap.Trap) ([]complex128, error) {
	if s, ok := t.CachedStructure(f.GeometryRevision); ok {
		return s, nil
	}
	fn, ok := e.structures.Lookup(t.Kind())
	if !ok {
		return nil, &trap.UnknownKindError{TrapID: t.ID(), Kind: t.Kind()}
	}
	s := fn(f.Geometry, t.Params())
	t.StoreStructure(s, f.GeometryRevision)
	e.structureEvals.Add(1)
	return s, nil
}

// FieldOf returns the total complex field of a single trap: its focusing
// field times its mode structure.
func (e *Engine) FieldOf(f *Frame, t *trap.Trap) ([]complex128, error) {
	s, err := e.structureOf(f, t)
	if err != nil {
		return nil, err
	}
	field := e.fieldOf(f, t)
	out := make([]complex128, len(field))
	if s == nil {
		copy(out, field)
		return out, nil
	}
	for k := range out {
		out[k] = field[k] * s[k]
	}
	return out, nil
}

// Superpose sums the total fields of traps in order. Every kind is
// checked before any field is computed.
func (e *Engine) Superpose(ctx context.Context, f *Frame, traps []*trap.Trap) ([]complex128, error) {
	for _, t := range traps {
		if _, ok := t.CachedStructure(f.GeometryRevision); ok {
			continue
		}
		if _, ok := e.structures.Lookup(t.Kind()); !ok {
			return nil, &trap.UnknownKindError{TrapID: t.ID(), Kind: t.Kind()}
		}
	}

	acc := make([]complex128, f.Geometry.Height*f.Geometry.Width)
	for _, t := range traps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := e.structureOf(f, t)
		if err != nil {
			return nil, err
		}
		field := e.fieldOf(f, t)
		if s == nil {
			for k, v := range field {
				acc[k] += v
			}
			continue
		}
		for k, v := range field {
			acc[k] += v * s[k]
		}
	}
	return acc, nil
}

// Quantize maps the phase of each pixel onto a byte,
// floor((128/π)·angle + 127) mod 256. Zero-magnitude pixels map to
// ZeroPhaseByte.
func Quantize(field []complex128) []byte {
	out := make([]byte, len(field))
	for k, v := range field {
		out[k] = quantize(v)
	}
	return out
}

func quantize(v complex128) byte {
	if v == 0 {
		return ZeroPhaseByte
	}
	// explicit conversion keeps the product from being fused with the add
	scaled := float64((128 / math.Pi) * cmplx.Phase(v))
	n := int(math.Floor(scaled + 127))
	return byte(((n % 256) + 256) % 256)
}

// Compute builds the hologram for traps and publishes it to every sink.
// On error, including cancellation of ctx, nothing is published and the
// previous hologram remains current.
func (e *Engine) Compute(ctx context.Context, f *Frame, traps []*trap.Trap) (*Hologram, error) {
	start := e.clock.Now()
	acc, err := e.Superpose(ctx, f, traps)
	if err != nil {
		return nil, err
	}
	phase := Quantize(acc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &Hologram{
		Sequence:   e.sequence.Add(1),
		Height:     f.Geometry.Height,
		Width:      f.Geometry.Width,
		Phase:      phase,
		Traps:      len(traps),
		Duration:   e.clock.Since(start),
		ComputedAt: start,
	}
	e.current.Store(h)
	monitoring.Debugf("[cgh] computed hologram %d for %d traps in %s", h.Sequence, h.Traps, h.Duration)

	e.sinksMu.RLock()
	sinks := append([]Sink(nil), e.sinks...)
	e.sinksMu.RUnlock()
	for _, s := range sinks {
		s.HologramReady(h)
	}
	return h, nil
}
