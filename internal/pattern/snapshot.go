package pattern

import (
	"github.com/banshee-data/holofab/internal/trap"
)

// Snapshot is an immutable view of the leaf traps, in pattern order, at
// a given pattern version. The traps are clones; computing on them never
// touches the live pattern.
type Snapshot struct {
	Version uint64
	Traps   []*trap.Trap
}

// Snapshot clones the current leaf traps.
func (p *Pattern) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	leaves := p.leavesOf(Root)
	s := Snapshot{Version: p.version, Traps: make([]*trap.Trap, len(leaves))}
	for i, t := range leaves {
		s.Traps[i] = t.Clone()
	}
	return s
}

// Adopt copies caches computed on a snapshot back into the live traps.
// Traps deleted or edited since the snapshot keep their own state. It
// returns the number of traps that took at least one cache.
func (p *Pattern) Adopt(s Snapshot) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	adopted := 0
	for _, c := range s.Traps {
		n, ok := p.nodes[c.ID()]
		if !ok || n.leaf == nil {
			continue
		}
		if n.leaf.AdoptCaches(c) {
			adopted++
		}
	}
	return adopted
}
