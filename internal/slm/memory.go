package slm

import (
	"sync"

	"github.com/banshee-data/holofab/internal/cgh"
)

// MemoryDisplay keeps the most recent holograms in memory. It serves as
// a local display sink and as the callback target of Client.Stream.
type MemoryDisplay struct {
	mu     sync.Mutex
	limit  int
	frames []*cgh.Hologram
	shown  chan struct{}
}

// NewMemoryDisplay retains up to limit holograms (at least one).
func NewMemoryDisplay(limit int) *MemoryDisplay {
	if limit < 1 {
		limit = 1
	}
	return &MemoryDisplay{limit: limit, shown: make(chan struct{}, 1)}
}

// HologramReady implements cgh.Sink.
func (d *MemoryDisplay) HologramReady(h *cgh.Hologram) {
	_ = d.Show(h)
}

// Show stores h, evicting the oldest frame beyond the limit.
func (d *MemoryDisplay) Show(h *cgh.Hologram) error {
	d.mu.Lock()
	d.frames = append(d.frames, h)
	if len(d.frames) > d.limit {
		d.frames = append(d.frames[:0:0], d.frames[len(d.frames)-d.limit:]...)
	}
	d.mu.Unlock()

	select {
	case d.shown <- struct{}{}:
	default:
	}
	return nil
}

// Shown signals after each Show. Signals coalesce.
func (d *MemoryDisplay) Shown() <-chan struct{} { return d.shown }

// Latest returns the newest hologram, or nil.
func (d *MemoryDisplay) Latest() *cgh.Hologram {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return d.frames[len(d.frames)-1]
}

// Frames returns the retained holograms, oldest first.
func (d *MemoryDisplay) Frames() []*cgh.Hologram {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*cgh.Hologram, len(d.frames))
	copy(out, d.frames)
	return out
}
