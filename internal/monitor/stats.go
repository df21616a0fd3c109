// Package monitor records hologram compute statistics and serves them on
// the debug pages.
package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/holofab/internal/cgh"
)

// DefaultCapacity is the number of samples NewStats keeps when given a
// non-positive capacity.
const DefaultCapacity = 512

// Sample describes one completed hologram.
type Sample struct {
	Sequence   uint64        `json:"sequence"`
	ComputedAt time.Time     `json:"computed_at"`
	Duration   time.Duration `json:"duration_ns"`
	Traps      int           `json:"traps"`
}

// Summary aggregates the retained samples.
type Summary struct {
	Count        int           `json:"count"`
	Total        uint64        `json:"total"`
	Mean         time.Duration `json:"mean_ns"`
	Min          time.Duration `json:"min_ns"`
	Max          time.Duration `json:"max_ns"`
	P95          time.Duration `json:"p95_ns"`
	LastSequence uint64        `json:"last_sequence"`
	LastTraps    int           `json:"last_traps"`
}

// Stats is a cgh.Sink keeping a ring buffer of recent compute samples and
// the latest hologram.
type Stats struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool
	total   uint64

	latest atomic.Pointer[cgh.Hologram]

	sourcesMu sync.RWMutex
	sources   map[string]func() any
}

var _ cgh.Sink = (*Stats)(nil)

// NewStats keeps the last capacity samples.
func NewStats(capacity int) *Stats {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stats{
		samples: make([]Sample, capacity),
		sources: make(map[string]func() any),
	}
}

// HologramReady implements cgh.Sink.
func (s *Stats) HologramReady(h *cgh.Hologram) {
	s.latest.Store(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[s.next] = Sample{
		Sequence:   h.Sequence,
		ComputedAt: h.ComputedAt,
		Duration:   h.Duration,
		Traps:      h.Traps,
	}
	s.next = (s.next + 1) % len(s.samples)
	if s.next == 0 {
		s.full = true
	}
	s.total++
}

// Latest returns the newest hologram, or nil.
func (s *Stats) Latest() *cgh.Hologram { return s.latest.Load() }

// Samples returns the retained samples, oldest first.
func (s *Stats) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return append([]Sample(nil), s.samples[:s.next]...)
	}
	out := make([]Sample, 0, len(s.samples))
	out = append(out, s.samples[s.next:]...)
	return append(out, s.samples[:s.next]...)
}

// Summary aggregates the retained samples.
func (s *Stats) Summary() Summary {
	samples := s.Samples()
	s.mu.Lock()
	sum := Summary{Count: len(samples), Total: s.total}
	s.mu.Unlock()
	if len(samples) == 0 {
		return sum
	}

	durations := make([]time.Duration, len(samples))
	var acc time.Duration
	for i, smp := range samples {
		durations[i] = smp.Duration
		acc += smp.Duration
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	last := samples[len(samples)-1]
	sum.Mean = acc / time.Duration(len(samples))
	sum.Min = durations[0]
	sum.Max = durations[len(durations)-1]
	sum.P95 = durations[(len(durations)*95-1)/100]
	sum.LastSequence = last.Sequence
	sum.LastTraps = last.Traps
	return sum
}

// AddSource includes fn's result under name in the JSON stats.
func (s *Stats) AddSource(name string, fn func() any) {
	s.sourcesMu.Lock()
	defer s.sourcesMu.Unlock()
	s.sources[name] = fn
}

func (s *Stats) sourceValues() map[string]any {
	s.sourcesMu.RLock()
	defer s.sourcesMu.RUnlock()
	out := make(map[string]any, len(s.sources))
	for name, fn := range s.sources {
		out[name] = fn()
	}
	return out
}
