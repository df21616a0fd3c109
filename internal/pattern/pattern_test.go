package pattern

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holofab/internal/trap"
)

func addAt(t *testing.T, p *Pattern, coords ...float64) trap.ID {
	t.Helper()
	id, err := p.AddTrap(coords, nil)
	require.NoError(t, err)
	return id
}

func positions(t *testing.T, p *Pattern, ids ...trap.ID) []trap.Vec3 {
	t.Helper()
	out := make([]trap.Vec3, len(ids))
	for i, id := range ids {
		r, err := p.Position(id)
		require.NoError(t, err)
		out[i] = r
	}
	return out
}

func TestAddTrap(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 10, 20)
	b, err := p.AddTrap([]float64{1, 2, 3}, trap.New(trap.Vortex))
	require.NoError(t, err)

	assert.Equal(t, []trap.ID{a, b}, p.Members())
	assert.Equal(t, 2, p.Len())

	got := p.Traps()
	require.Len(t, got, 2)
	assert.Equal(t, trap.Tweezer, got[0].Kind())
	assert.Equal(t, trap.Vec3{X: 10, Y: 20}, got[0].R())
	assert.Equal(t, trap.Vortex, got[1].Kind())
	assert.Equal(t, trap.Vec3{X: 1, Y: 2, Z: 3}, got[1].R())
}

func TestAddTrap_InvalidCoordinate(t *testing.T) {
	t.Parallel()

	p := New()
	addAt(t, p, 1, 1)
	v := p.Version()

	_, err := p.AddTrap([]float64{1}, nil)
	assert.ErrorIs(t, err, trap.ErrInvalidCoordinate)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, v, p.Version())
}

func TestAddTrap_Twice(t *testing.T) {
	t.Parallel()

	p := New()
	tr := trap.New(trap.Tweezer)
	_, err := p.AddTrap([]float64{0, 0}, tr)
	require.NoError(t, err)
	_, err = p.AddTrap([]float64{1, 1}, tr)
	assert.Error(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestDeleteTrap(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 10, 0)
	c := addAt(t, p, 20, 0)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)

	require.NoError(t, p.DeleteTrap(g))
	assert.Equal(t, []trap.ID{c}, p.Members())
	assert.Equal(t, 1, p.Len())

	_, err = p.GroupOf(a)
	assert.ErrorIs(t, err, ErrDanglingReference)
}

func TestDanglingReference(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	ghost := trap.New(trap.Tweezer).ID()
	v := p.Version()

	err := p.DeleteTrap(ghost)
	var de *DanglingError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ghost, de.ID)

	assert.ErrorIs(t, p.Move(ghost, []float64{1, 1}), ErrDanglingReference)
	assert.ErrorIs(t, p.BreakGroup(ghost), ErrDanglingReference)
	assert.ErrorIs(t, p.SetTrapProperty(ghost, "x", 1), ErrDanglingReference)
	_, err = p.MakeGroup([]trap.ID{a, ghost})
	assert.ErrorIs(t, err, ErrDanglingReference)
	assert.ErrorIs(t, p.DeleteTrap(Root), ErrDanglingReference)

	assert.Equal(t, []trap.ID{a}, p.Members())
	assert.Equal(t, v, p.Version())
}

func TestMakeGroup_EmptySelection(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	v := p.Version()

	for _, ids := range [][]trap.ID{nil, {a}, {a, a}} {
		_, err := p.MakeGroup(ids)
		assert.ErrorIs(t, err, ErrEmptySelection)
	}
	assert.Equal(t, []trap.ID{a}, p.Members())
	assert.Equal(t, v, p.Version())
}

func TestMakeGroup_PositionsAtLastCandidate(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 30, 40, 5)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)

	r, err := p.Position(g)
	require.NoError(t, err)
	o, err := p.Origin(g)
	require.NoError(t, err)
	assert.Equal(t, trap.Vec3{X: 30, Y: 40, Z: 5}, r)
	assert.Equal(t, r, o)

	children, err := p.Children(g)
	require.NoError(t, err)
	assert.Equal(t, []trap.ID{a, b}, children)
	assert.Equal(t, []trap.ID{g}, p.Members())
}

func TestMakeGroup_NestedCandidateIgnored(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 1, 0)
	c := addAt(t, p, 2, 0)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)

	outer, err := p.MakeGroup([]trap.ID{g, a, c})
	require.NoError(t, err)
	children, err := p.Children(outer)
	require.NoError(t, err)
	assert.Equal(t, []trap.ID{g, c}, children)

	parent, err := p.Parent(a)
	require.NoError(t, err)
	assert.Equal(t, g, parent)
}

func TestGroupingRoundTrip(t *testing.T) {
	t.Parallel()

	p := New()
	ids := []trap.ID{
		addAt(t, p, 0, 0, 0),
		addAt(t, p, 10, 5, 1),
		addAt(t, p, -3, 7, 2),
	}
	before := positions(t, p, ids...)

	g, err := p.MakeGroup(ids)
	require.NoError(t, err)
	require.NoError(t, p.BreakGroup(g))

	if diff := cmp.Diff(before, positions(t, p, ids...)); diff != "" {
		t.Errorf("positions changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, ids, p.Members())
	ok, err := p.IsGroup(ids[0])
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = p.Position(g)
	assert.ErrorIs(t, err, ErrDanglingReference, "no residual empty group")
}

func TestBreakGroup_LeafIsNoop(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	v := p.Version()
	require.NoError(t, p.BreakGroup(a))
	assert.Equal(t, v, p.Version())
	assert.Equal(t, []trap.ID{a}, p.Members())
}

func TestBreakGroup_Nested(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 1, 0)
	c := addAt(t, p, 2, 0)
	inner, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)
	outer, err := p.MakeGroup([]trap.ID{inner, c})
	require.NoError(t, err)

	require.NoError(t, p.BreakGroup(inner))
	assert.Equal(t, []trap.ID{outer, a, b}, p.Members())
	children, err := p.Children(outer)
	require.NoError(t, err)
	assert.Equal(t, []trap.ID{c}, children)
}

func TestCascadeCleanup(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 1, 0)
	c := addAt(t, p, 2, 0)
	inner, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)
	outer, err := p.MakeGroup([]trap.ID{inner, c})
	require.NoError(t, err)

	require.NoError(t, p.DeleteTrap(a))
	_, err = p.Position(inner)
	require.NoError(t, err, "inner group still holds b")

	require.NoError(t, p.DeleteTrap(b))
	_, err = p.Position(inner)
	assert.ErrorIs(t, err, ErrDanglingReference, "emptied group is removed")
	children, err := p.Children(outer)
	require.NoError(t, err)
	assert.Equal(t, []trap.ID{c}, children)

	require.NoError(t, p.DeleteTrap(c))
	_, err = p.Position(outer)
	assert.ErrorIs(t, err, ErrDanglingReference, "cascade reaches the top level")
	assert.Empty(t, p.Members())
}

func TestAdditiveGroupMotion(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0, 0)
	b := addAt(t, p, 10, 0, 0)
	c := addAt(t, p, 5, 5, 2)
	inner, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)
	outer, err := p.MakeGroup([]trap.ID{inner, c})
	require.NoError(t, err)

	before := positions(t, p, a, b, c)
	origin, err := p.Origin(outer)
	require.NoError(t, err)
	innerOrigin, err := p.Origin(inner)
	require.NoError(t, err)

	delta := trap.Vec3{X: 3, Y: -4, Z: 1.5}
	target := origin.Add(delta)
	require.NoError(t, p.Move(outer, []float64{target.X, target.Y, target.Z}))

	after := positions(t, p, a, b, c)
	for i := range before {
		assert.Equal(t, before[i].Add(delta), after[i])
	}
	o, err := p.Origin(outer)
	require.NoError(t, err)
	assert.Equal(t, target, o)

	io, err := p.Origin(inner)
	require.NoError(t, err)
	assert.Equal(t, innerOrigin.Add(delta), io, "nested origins follow")
}

func TestMove_TwoComponentsKeepDepth(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 1, 1, 7)
	require.NoError(t, p.Move(a, []float64{4, 5}))
	got := positions(t, p, a)
	assert.Equal(t, trap.Vec3{X: 4, Y: 5, Z: 7}, got[0])

	assert.ErrorIs(t, p.Move(a, []float64{1, 2, 3, 4}), trap.ErrInvalidCoordinate)
	assert.Equal(t, got, positions(t, p, a))
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0, 0)
	b := addAt(t, p, 10, 0, 0)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)

	require.NoError(t, p.Translate(g, trap.Vec3{Z: 2}))
	assert.Equal(t, []trap.Vec3{{Z: 2}, {X: 10, Z: 2}}, positions(t, p, a, b))
	r, err := p.Position(g)
	require.NoError(t, err)
	assert.Equal(t, trap.Vec3{X: 10, Z: 2}, r)
}

func TestContainment(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 10, 10)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)

	in, err := p.IsWithin(g, trap.NewRect(-1, -1, 11, 11))
	require.NoError(t, err)
	assert.True(t, in)

	in, err = p.IsWithin(g, trap.NewRect(-1, -1, 5, 5))
	require.NoError(t, err)
	assert.False(t, in, "b lies outside")

	in, err = p.IsWithin(a, trap.NewRect(-1, -1, 5, 5))
	require.NoError(t, err)
	assert.True(t, in)

	assert.Equal(t, []trap.ID{a}, p.TrapsIn(trap.NewRect(-1, -1, 5, 5)))
}

func TestGroupTraps(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 5, 5)
	c := addAt(t, p, 50, 50)
	v := p.Version()

	got := p.GroupTraps(trap.NewRect(-1, -1, 10, 10))
	assert.Equal(t, []trap.ID{a, b}, got)
	assert.Equal(t, v, p.Version(), "grouping marks do not change the tree")
	assert.Equal(t, []trap.ID{a, b, c}, p.Members())

	states := map[trap.ID]trap.State{}
	for _, s := range p.Spots() {
		states[s.ID] = s.State
	}
	assert.Equal(t, trap.Grouping, states[a])
	assert.Equal(t, trap.Grouping, states[b])
	assert.Equal(t, trap.Normal, states[c])

	g, err := p.MakeGroup(got)
	require.NoError(t, err)
	p.SetState(trap.Normal)
	for _, s := range p.Spots() {
		assert.Equal(t, trap.Normal, s.State)
	}
	assert.Equal(t, []trap.ID{c, g}, p.Members())
}

func TestSelectThenMove(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 10, 0)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)

	top, err := p.Select(a, []float64{2, 0})
	require.NoError(t, err)
	assert.Equal(t, g, top)
	for _, s := range p.Spots() {
		assert.Equal(t, trap.Selected, s.State)
	}

	// Drag the pointer from (2, 0) to (5, 1).
	require.NoError(t, p.Move(g, []float64{5, 1}))
	assert.Equal(t, []trap.Vec3{{X: 3, Y: 1}, {X: 13, Y: 1}}, positions(t, p, a, b))
}

func TestSetTrapProperty(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.AddTrap([]float64{0, 0}, trap.New(trap.Ring))
	require.NoError(t, err)

	require.NoError(t, p.SetTrapProperty(id, "radius", 25))
	tr, err := p.Trap(id)
	require.NoError(t, err)
	radius, _ := tr.Param("radius")
	assert.Equal(t, 25.0, radius)

	assert.ErrorIs(t, p.SetTrapProperty(id, "bogus", 1), trap.ErrUnknownProperty)

	b := addAt(t, p, 10, 0)
	g, err := p.MakeGroup([]trap.ID{id, b})
	require.NoError(t, err)
	require.NoError(t, p.SetTrapProperty(g, "z", 4))
	assert.Equal(t, []trap.Vec3{{Z: 4}, {X: 10, Z: 4}}, positions(t, p, id, b))
	assert.ErrorIs(t, p.SetTrapProperty(g, "amplitude", 1), trap.ErrUnknownProperty)
}

func TestSetTrapProperties_OneChange(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.AddTrap([]float64{0, 0}, trap.New(trap.Vortex))
	require.NoError(t, err)
	sub, ch := p.Subscribe()
	defer p.Unsubscribe(sub)
	v := p.Version()

	require.NoError(t, p.SetTrapProperties(id, map[string]float64{"x": 3, "y": 4, "ell": 2}))
	assert.Equal(t, []EventType{Changed}, types(drain(ch)))
	assert.Equal(t, v+1, p.Version())
	assert.Equal(t, []trap.Vec3{{X: 3, Y: 4}}, positions(t, p, id))

	err = p.SetTrapProperties(id, map[string]float64{"x": 9, "radius": 1})
	assert.ErrorIs(t, err, trap.ErrUnknownProperty)
	assert.Empty(t, drain(ch))
	assert.Equal(t, []trap.Vec3{{X: 3, Y: 4}}, positions(t, p, id), "rejected edit writes nothing")

	require.NoError(t, p.SetTrapProperties(id, nil))
	assert.Empty(t, drain(ch))
	assert.Equal(t, v+1, p.Version())
}

func TestSetTrapProperties_Group(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	b := addAt(t, p, 10, 0)
	g, err := p.MakeGroup([]trap.ID{a, b})
	require.NoError(t, err)
	before, err := p.Position(g)
	require.NoError(t, err)

	sub, ch := p.Subscribe()
	defer p.Unsubscribe(sub)
	require.NoError(t, p.SetTrapProperties(g, map[string]float64{"x": before.X + 1, "y": before.Y + 2}))
	assert.Equal(t, []EventType{Changed}, types(drain(ch)))
	assert.Equal(t, []trap.Vec3{{X: 1, Y: 2}, {X: 11, Y: 2}}, positions(t, p, a, b))

	assert.ErrorIs(t, p.SetTrapProperties(g, map[string]float64{"x": 0, "phase": 1}), trap.ErrUnknownProperty)
	assert.Equal(t, []trap.Vec3{{X: 1, Y: 2}, {X: 11, Y: 2}}, positions(t, p, a, b))
}

func TestAddTrap_CopiesTrap(t *testing.T) {
	t.Parallel()

	p := New()
	tr := trap.New(trap.Tweezer)
	tr.SetAmplitude(0.5)
	id, err := p.AddTrap([]float64{1, 2}, tr)
	require.NoError(t, err)
	assert.Equal(t, tr.ID(), id)

	tr.SetAmplitude(2)
	tr.SetPosition(trap.Vec3{X: 50})

	stored, err := p.Trap(id)
	require.NoError(t, err)
	assert.NotSame(t, tr, stored)
	assert.Equal(t, 0.5, stored.Amplitude())
	assert.Equal(t, trap.Vec3{X: 1, Y: 2}, stored.R())
}

func TestClearAndRecalculate(t *testing.T) {
	t.Parallel()

	p := New()
	a := addAt(t, p, 0, 0)
	s := p.Snapshot()
	for _, c := range s.Traps {
		c.StoreField([]complex128{1}, 1)
		c.StoreStructure(nil, 1)
	}
	require.Equal(t, 1, p.Adopt(s))

	p.Recalculate()
	tr, err := p.Trap(a)
	require.NoError(t, err)
	assert.True(t, tr.NeedsField())
	assert.True(t, tr.NeedsStructure())

	p.Clear()
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Members())
}

func TestAddArray(t *testing.T) {
	t.Parallel()

	p := New()
	g, err := p.AddArray(2, 3, 50, trap.Vec3{X: 100, Y: 100})
	require.NoError(t, err)
	assert.Equal(t, 6, p.Len())
	assert.Equal(t, []trap.ID{g}, p.Members())

	var got []trap.Vec3
	for _, tr := range p.Traps() {
		assert.Equal(t, trap.Tweezer, tr.Kind())
		got = append(got, tr.R())
	}
	want := []trap.Vec3{
		{X: 100, Y: 100}, {X: 150, Y: 100}, {X: 200, Y: 100},
		{X: 100, Y: 150}, {X: 150, Y: 150}, {X: 200, Y: 150},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("array positions (-want +got):\n%s", diff)
	}

	_, err = p.AddArray(0, 3, 50, trap.Vec3{})
	assert.Error(t, err)
}
