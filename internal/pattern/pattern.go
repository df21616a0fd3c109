// Package pattern holds the trapping pattern: a forest of traps and
// groups stored in an arena keyed by trap ID. Every node records its
// parent ID; the pattern itself is the root under trap.Nil.
//
// All operations are atomic with respect to notifications: events are
// posted after the write lock is released, so subscribers never observe
// a partially applied edit.
package pattern

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/holofab/internal/monitoring"
	"github.com/banshee-data/holofab/internal/trap"
)

// Root is the ID of the pattern itself.
var Root = trap.Nil

type node struct {
	id       trap.ID
	parent   trap.ID
	leaf     *trap.Trap // nil for groups
	children []trap.ID

	// group position and motion reference
	r      trap.Vec3
	origin trap.Vec3
	state  trap.State
}

func (n *node) isGroup() bool { return n.leaf == nil }

func (n *node) position() trap.Vec3 {
	if n.leaf != nil {
		return n.leaf.R()
	}
	return n.r
}

// Pattern is the root of the trap forest.
type Pattern struct {
	mu      sync.RWMutex
	nodes   map[trap.ID]*node
	version uint64
	bus     *Bus
}

// New returns an empty pattern.
func New() *Pattern {
	p := &Pattern{
		nodes: make(map[trap.ID]*node),
		bus:   NewBus(DefaultBufferSize),
	}
	p.nodes[Root] = &node{id: Root, parent: Root}
	return p
}

// Subscribe registers for change notifications.
func (p *Pattern) Subscribe() (string, <-chan Event) { return p.bus.Subscribe() }

// Unsubscribe stops notifications on the channel returned by Subscribe.
func (p *Pattern) Unsubscribe(id string) { p.bus.Unsubscribe(id) }

// Version returns the number of hologram-affecting edits so far.
func (p *Pattern) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// update runs fn under the write lock and publishes the events it
// returns once the lock is released.
func (p *Pattern) update(fn func() ([]Event, error)) error {
	p.mu.Lock()
	events, err := fn()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.bus.Publish(events...)
	return nil
}

// changed bumps the version and returns the matching events.
func (p *Pattern) changed(extra ...Event) []Event {
	p.version++
	out := make([]Event, 0, len(extra)+1)
	for _, ev := range extra {
		ev.Version = p.version
		out = append(out, ev)
	}
	return append(out, Event{Type: Changed, Version: p.version})
}

func (p *Pattern) stateChanged() []Event {
	return []Event{{Type: StateChanged, Version: p.version}}
}

func (p *Pattern) lookup(id trap.ID) (*node, error) {
	if id == Root {
		return nil, &DanglingError{ID: id}
	}
	n, ok := p.nodes[id]
	if !ok {
		return nil, &DanglingError{ID: id}
	}
	return n, nil
}

func (p *Pattern) attach(parent, id trap.ID) {
	n := p.nodes[id]
	n.parent = parent
	pn := p.nodes[parent]
	if !slices.Contains(pn.children, id) {
		pn.children = append(pn.children, id)
	}
}

// detach unlinks id from its parent and removes any group that is left
// empty, cascading towards the root.
func (p *Pattern) detach(id trap.ID) {
	n := p.nodes[id]
	pn := p.nodes[n.parent]
	pn.children = slices.DeleteFunc(pn.children, func(c trap.ID) bool { return c == id })
	n.parent = Root
	if pn.id != Root && len(pn.children) == 0 {
		monitoring.Debugf("[pattern] removing empty group %s", pn.id)
		p.detach(pn.id)
		delete(p.nodes, pn.id)
	}
}

// walk visits id and its descendants depth-first in member order.
func (p *Pattern) walk(id trap.ID, fn func(*node)) {
	n := p.nodes[id]
	fn(n)
	for _, c := range n.children {
		p.walk(c, fn)
	}
}

func (p *Pattern) leavesOf(id trap.ID) []*trap.Trap {
	var out []*trap.Trap
	p.walk(id, func(n *node) {
		if n.leaf != nil {
			out = append(out, n.leaf)
		}
	})
	return out
}

func (p *Pattern) topOf(id trap.ID) trap.ID {
	for {
		n := p.nodes[id]
		if n.parent == Root {
			return id
		}
		id = n.parent
	}
}

func (p *Pattern) isAncestor(ancestor, id trap.ID) bool {
	for id != Root {
		id = p.nodes[id].parent
		if id == ancestor {
			return true
		}
	}
	return false
}

// within reports whether the node lies inside rect. A group is within
// iff every member is.
func (p *Pattern) within(id trap.ID, rect trap.Rect) bool {
	n := p.nodes[id]
	if n.leaf != nil {
		r := n.leaf.R()
		return rect.Contains(r.X, r.Y)
	}
	for _, c := range n.children {
		if !p.within(c, rect) {
			return false
		}
	}
	return true
}

// shift displaces a node and all of its descendants by dr.
func (p *Pattern) shift(id trap.ID, dr trap.Vec3) {
	p.walk(id, func(n *node) {
		if n.leaf != nil {
			n.leaf.SetPosition(n.leaf.R().Add(dr))
			return
		}
		n.r = n.r.Add(dr)
		n.origin = n.origin.Add(dr)
	})
}

// moveTo places a node at r. Groups move their members by r - origin.
func (p *Pattern) moveTo(n *node, r trap.Vec3) {
	if n.leaf != nil {
		n.leaf.SetPosition(r)
		return
	}
	dr := r.Sub(n.origin)
	for _, c := range n.children {
		p.shift(c, dr)
	}
	n.r = r
	n.origin = r
}

func (p *Pattern) setState(id trap.ID, s trap.State) {
	p.walk(id, func(n *node) {
		if n.leaf != nil {
			n.leaf.SetState(s)
		} else {
			n.state = s
		}
	})
}

// AddTrap places a copy of t at coords and adds it to the pattern. A nil
// trap is replaced by a new tweezer. Later writes to t do not reach the
// pattern; use Trap or SetTrapProperties on the returned id.
func (p *Pattern) AddTrap(coords []float64, t *trap.Trap) (trap.ID, error) {
	if t == nil {
		t = trap.New(trap.Tweezer)
	} else {
		t = t.Clone()
	}
	r, err := trap.ParsePosition(t.R(), coords)
	if err != nil {
		return trap.Nil, err
	}
	err = p.update(func() ([]Event, error) {
		if _, ok := p.nodes[t.ID()]; ok {
			return nil, fmt.Errorf("trap %s is already in the pattern", t.ID())
		}
		t.SetPosition(r)
		t.SetOrigin(r)
		p.nodes[t.ID()] = &node{id: t.ID(), leaf: t}
		p.attach(Root, t.ID())
		monitoring.Debugf("[pattern] added %s %s at (%.2f, %.2f, %.2f)", t.Kind(), t.ID(), r.X, r.Y, r.Z)
		return p.changed(Event{Type: TrapAdded, ID: t.ID()}), nil
	})
	if err != nil {
		return trap.Nil, err
	}
	return t.ID(), nil
}

// DeleteTrap removes a trap or a group with all of its members.
func (p *Pattern) DeleteTrap(id trap.ID) error {
	return p.update(func() ([]Event, error) {
		if _, err := p.lookup(id); err != nil {
			return nil, err
		}
		var removed []Event
		var doomed []trap.ID
		p.walk(id, func(n *node) {
			doomed = append(doomed, n.id)
			if n.leaf != nil {
				removed = append(removed, Event{Type: TrapDeleted, ID: n.id})
			}
		})
		p.detach(id)
		for _, d := range doomed {
			delete(p.nodes, d)
		}
		monitoring.Debugf("[pattern] deleted %s (%d traps)", id, len(removed))
		return p.changed(removed...), nil
	})
}

// GroupTraps marks every top-level member that lies within rect as
// Grouping and every other member as Normal. It returns the candidates
// without changing the tree.
func (p *Pattern) GroupTraps(rect trap.Rect) []trap.ID {
	var candidates []trap.ID
	_ = p.update(func() ([]Event, error) {
		for _, id := range p.nodes[Root].children {
			if p.within(id, rect) {
				p.setState(id, trap.Grouping)
				candidates = append(candidates, id)
			} else {
				p.setState(id, trap.Normal)
			}
		}
		return p.stateChanged(), nil
	})
	return candidates
}

// MakeGroup moves the candidates into a new group at the top level and
// returns its ID. The group is positioned at the last candidate.
// Candidates nested inside another candidate are ignored. Fewer than two
// distinct candidates yields ErrEmptySelection.
func (p *Pattern) MakeGroup(ids []trap.ID) (trap.ID, error) {
	var gid trap.ID
	err := p.update(func() ([]Event, error) {
		for _, id := range ids {
			if _, err := p.lookup(id); err != nil {
				return nil, err
			}
		}
		var members []trap.ID
		for _, id := range ids {
			if slices.Contains(members, id) {
				continue
			}
			nested := slices.ContainsFunc(ids, func(other trap.ID) bool {
				return other != id && p.isAncestor(other, id)
			})
			if !nested {
				members = append(members, id)
			}
		}
		if len(members) < 2 {
			monitoring.Debugf("[pattern] not enough traps to group")
			return nil, ErrEmptySelection
		}

		gid = uuid.New()
		group := &node{id: gid, state: trap.Normal}
		p.nodes[gid] = group
		for _, id := range members {
			p.detach(id)
			p.attach(gid, id)
		}
		last := p.nodes[members[len(members)-1]].position()
		group.r, group.origin = last, last
		p.attach(Root, gid)
		monitoring.Debugf("[pattern] grouped %d members into %s", len(members), gid)
		return p.changed(), nil
	})
	if err != nil {
		return trap.Nil, err
	}
	return gid, nil
}

// BreakGroup moves every member of a group to the top level and removes
// the emptied group. Breaking a leaf is a no-op.
func (p *Pattern) BreakGroup(id trap.ID) error {
	return p.update(func() ([]Event, error) {
		n, err := p.lookup(id)
		if err != nil {
			return nil, err
		}
		if !n.isGroup() {
			return nil, nil
		}
		members := slices.Clone(n.children)
		for _, c := range members {
			p.detach(c)
			p.attach(Root, c)
		}
		if _, ok := p.nodes[id]; ok {
			p.detach(id)
			delete(p.nodes, id)
		}
		monitoring.Debugf("[pattern] broke group %s into %d members", id, len(members))
		return p.changed(), nil
	})
}

// GroupOf returns the top-level member containing id, or id itself if it
// is ungrouped.
func (p *Pattern) GroupOf(id trap.ID) (trap.ID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, err := p.lookup(id); err != nil {
		return trap.Nil, err
	}
	return p.topOf(id), nil
}

// Parent returns the group directly containing id. Top-level members
// return Root.
func (p *Pattern) Parent(id trap.ID) (trap.ID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.lookup(id)
	if err != nil {
		return trap.Nil, err
	}
	return n.parent, nil
}

// Members returns the top-level member IDs in insertion order.
func (p *Pattern) Members() []trap.ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.nodes[Root].children)
}

// Children returns the direct members of a group.
func (p *Pattern) Children(id trap.ID) ([]trap.ID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id == Root {
		return slices.Clone(p.nodes[Root].children), nil
	}
	n, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.children), nil
}

// IsGroup reports whether id names a group.
func (p *Pattern) IsGroup(id trap.ID) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.lookup(id)
	if err != nil {
		return false, err
	}
	return n.isGroup(), nil
}

// Position returns the position of a trap or group.
func (p *Pattern) Position(id trap.ID) (trap.Vec3, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.lookup(id)
	if err != nil {
		return trap.Vec3{}, err
	}
	return n.position(), nil
}

// Origin returns the motion reference of a trap or group.
func (p *Pattern) Origin(id trap.ID) (trap.Vec3, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.lookup(id)
	if err != nil {
		return trap.Vec3{}, err
	}
	if n.leaf != nil {
		return n.leaf.Origin(), nil
	}
	return n.origin, nil
}

// Trap returns a copy of the leaf trap id.
func (p *Pattern) Trap(id trap.ID) (*trap.Trap, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.leaf == nil {
		return nil, fmt.Errorf("%s is a group", id)
	}
	return n.leaf.Clone(), nil
}

// Traps returns copies of the leaf traps in pattern order.
func (p *Pattern) Traps() []*trap.Trap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	leaves := p.leavesOf(Root)
	out := make([]*trap.Trap, len(leaves))
	for i, t := range leaves {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of leaf traps.
func (p *Pattern) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.leavesOf(Root))
}

// Spots returns the rendering markers of the leaf traps in pattern order.
func (p *Pattern) Spots() []trap.Spot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	leaves := p.leavesOf(Root)
	out := make([]trap.Spot, len(leaves))
	for i, t := range leaves {
		out[i] = t.Spot()
	}
	return out
}

// TrapsIn returns the leaf traps whose in-plane position lies in rect.
func (p *Pattern) TrapsIn(rect trap.Rect) []trap.ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []trap.ID
	for _, t := range p.leavesOf(Root) {
		r := t.R()
		if rect.Contains(r.X, r.Y) {
			out = append(out, t.ID())
		}
	}
	return out
}

// IsWithin reports whether a trap, or every member of a group, lies in rect.
func (p *Pattern) IsWithin(id trap.ID, rect trap.Rect) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, err := p.lookup(id); err != nil {
		return false, err
	}
	return p.within(id, rect), nil
}

// SetTrapProperty writes a named property. Groups accept x, y and z,
// which move all members together.
func (p *Pattern) SetTrapProperty(id trap.ID, name string, v float64) error {
	return p.SetTrapProperties(id, map[string]float64{name: v})
}

// SetTrapProperties writes several named properties as one edit. Every
// name is checked before any is written, and a single change is posted.
func (p *Pattern) SetTrapProperties(id trap.ID, props map[string]float64) error {
	return p.update(func() ([]Event, error) {
		n, err := p.lookup(id)
		if err != nil || len(props) == 0 {
			return nil, err
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		slices.Sort(names)

		if n.leaf != nil {
			allowed := n.leaf.Properties()
			for _, name := range names {
				if !slices.Contains(allowed, name) {
					return nil, fmt.Errorf("%w: %s has no property %q", trap.ErrUnknownProperty, n.leaf.Kind(), name)
				}
			}
			for _, name := range names {
				if err := n.leaf.SetProperty(name, props[name]); err != nil {
					return nil, err
				}
			}
			return p.changed(), nil
		}

		r := n.r
		for _, name := range names {
			switch name {
			case "x":
				r.X = props[name]
			case "y":
				r.Y = props[name]
			case "z":
				r.Z = props[name]
			default:
				return nil, fmt.Errorf("%w: groups have no property %q", trap.ErrUnknownProperty, name)
			}
		}
		n.origin = n.r
		p.moveTo(n, r)
		return p.changed(), nil
	})
}

// Move places a trap at coords. A group moves all of its members by the
// displacement from its origin, then takes coords as its new origin.
func (p *Pattern) Move(id trap.ID, coords []float64) error {
	return p.update(func() ([]Event, error) {
		n, err := p.lookup(id)
		if err != nil {
			return nil, err
		}
		current := n.position()
		if n.isGroup() {
			current = n.origin
		}
		r, err := trap.ParsePosition(current, coords)
		if err != nil {
			return nil, err
		}
		p.moveTo(n, r)
		return p.changed(), nil
	})
}

// Translate displaces a trap or group by dr.
func (p *Pattern) Translate(id trap.ID, dr trap.Vec3) error {
	return p.update(func() ([]Event, error) {
		if _, err := p.lookup(id); err != nil {
			return nil, err
		}
		p.shift(id, dr)
		return p.changed(), nil
	})
}

// Select marks the top-level member containing id as Selected and sets
// its origin to the pointer position at, ready for Move. It returns the
// selected member.
func (p *Pattern) Select(id trap.ID, at []float64) (trap.ID, error) {
	var top trap.ID
	err := p.update(func() ([]Event, error) {
		if _, err := p.lookup(id); err != nil {
			return nil, err
		}
		top = p.topOf(id)
		n := p.nodes[top]
		if n.isGroup() {
			o, err := trap.ParsePosition(n.origin, at)
			if err != nil {
				return nil, err
			}
			n.origin = o
		} else if _, err := trap.ParsePosition(n.leaf.R(), at); err != nil {
			return nil, err
		}
		p.setState(top, trap.Selected)
		return p.stateChanged(), nil
	})
	if err != nil {
		return trap.Nil, err
	}
	return top, nil
}

// SetState sets the display state of every trap in the pattern.
func (p *Pattern) SetState(s trap.State) {
	_ = p.update(func() ([]Event, error) {
		p.setState(Root, s)
		return p.stateChanged(), nil
	})
}

// Clear removes every trap.
func (p *Pattern) Clear() {
	_ = p.update(func() ([]Event, error) {
		var removed []Event
		for _, t := range p.leavesOf(Root) {
			removed = append(removed, Event{Type: TrapDeleted, ID: t.ID()})
		}
		clear(p.nodes)
		p.nodes[Root] = &node{id: Root, parent: Root}
		return p.changed(removed...), nil
	})
}

// Recalculate marks every trap's field and structure stale, as after a
// calibration change.
func (p *Pattern) Recalculate() {
	_ = p.update(func() ([]Event, error) {
		for _, t := range p.leavesOf(Root) {
			t.Recalculate()
		}
		return p.changed(), nil
	})
}
