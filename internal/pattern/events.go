package pattern

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/holofab/internal/trap"
)

// EventType classifies a pattern notification.
type EventType int

const (
	// Changed is posted after any edit that affects the hologram.
	Changed EventType = iota
	// StateChanged is posted after display-state edits only.
	StateChanged
	TrapAdded
	TrapDeleted
)

func (t EventType) String() string {
	switch t {
	case Changed:
		return "changed"
	case StateChanged:
		return "stateChanged"
	case TrapAdded:
		return "trapAdded"
	case TrapDeleted:
		return "trapDeleted"
	}
	return "unknown"
}

// Event is a pattern notification. ID names the trap for TrapAdded and
// TrapDeleted. Version is the pattern version after the edit.
type Event struct {
	Type    EventType
	ID      trap.ID
	Version uint64
}

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event rather than stalling the publisher.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	bufferSize  int
	dropped     uint64
}

// NewBus returns a Bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new event channel. The ID is used to unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers events in order to every subscriber.
func (b *Bus) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				b.dropped++
			}
		}
	}
}

// Dropped returns the number of events discarded for slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
