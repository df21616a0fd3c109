package trap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec3Arithmetic(t *testing.T) {
	t.Parallel()

	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: 0.5, Y: -1, Z: 4}
	assert.Equal(t, Vec3{X: 1.5, Y: 1, Z: 7}, a.Add(b))
	assert.Equal(t, Vec3{X: 0.5, Y: 3, Z: -1}, a.Sub(b))
	assert.Equal(t, a, a.Add(b).Sub(b))
}

func TestRect(t *testing.T) {
	t.Parallel()

	r := NewRect(10, 40, 0, 20)
	assert.Equal(t, Rect{MinX: 0, MinY: 20, MaxX: 10, MaxY: 40}, r)

	assert.True(t, r.Contains(5, 30))
	assert.True(t, r.Contains(0, 20), "corners are inside")
	assert.True(t, r.Contains(10, 40))
	assert.False(t, r.Contains(10.01, 30))
	assert.False(t, r.Contains(5, 19))
}

func TestParsePosition(t *testing.T) {
	t.Parallel()

	current := Vec3{X: 1, Y: 2, Z: 3}

	got, err := ParsePosition(current, []float64{7, 8})
	require.NoError(t, err)
	assert.Equal(t, Vec3{X: 7, Y: 8, Z: 3}, got)

	got, err = ParsePosition(current, []float64{7, 8, 9})
	require.NoError(t, err)
	assert.Equal(t, Vec3{X: 7, Y: 8, Z: 9}, got)

	for _, coords := range [][]float64{nil, {1}, {1, 2, 3, 4}} {
		got, err = ParsePosition(current, coords)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidCoordinate))
		var ce *CoordinateError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, len(coords), ce.Components)
		assert.Equal(t, current, got)
	}
}

func TestStateText(t *testing.T) {
	t.Parallel()

	for _, s := range []State{Static, Normal, Selected, Grouping, Special} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("hovering")))
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, Normal.Color(), State(9).Color())
	assert.Equal(t, uint8(120), Grouping.Color().A)
}
