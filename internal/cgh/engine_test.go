package cgh

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/holofab/internal/timeutil"
	"github.com/banshee-data/holofab/internal/trap"
)

// onAxis returns a small calibration whose optical axis sits at the
// centre of both planes, with no splay and no tilt.
func onAxis(t *testing.T, h, w int) *Calibration {
	t.Helper()
	return newCalibration(t, func(p *Parameters) {
		p.Height, p.Width = h, w
		p.Xs, p.Ys = float64(w/2), float64(h/2)
		p.Xc, p.Yc, p.Zc = float64(w/2), float64(h/2), 0
		p.Splay = 0
		p.Phis = 0
	})
}

func expectedByte(angle float64) byte {
	scaled := float64((128 / math.Pi) * angle)
	n := int(math.Floor(scaled + 127))
	return byte(((n % 256) + 256) % 256)
}

type recordingSink struct {
	got []*Hologram
}

func (r *recordingSink) HologramReady(h *Hologram) { r.got = append(r.got, h) }

func TestQuantize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		v    complex128
		want byte
	}{
		{"zero magnitude", 0, ZeroPhaseByte},
		{"zero angle", 1, 127},
		{"quarter turn", 1i, 191},
		{"negative quarter turn", -1i, 63},
		{"half turn", -1, 255},
		{"just below half turn", cmplx.Rect(1, -math.Pi+1e-9), 255},
		{"small magnitude keeps phase", cmplx.Rect(1e-300, 1), 167},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, []byte{tc.want}, Quantize([]complex128{tc.v}))
		})
	}
}

func TestQuantize_Range(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	field := make([]complex128, 4096)
	for k := range field {
		field[k] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	field[0] = 0
	field[1] = complex(-1, 0)
	field[2] = complex(-1, math.Copysign(0, -1))

	out := Quantize(field)
	require.Len(t, out, len(field))
	for k, b := range out {
		if k == 0 {
			assert.Equal(t, byte(ZeroPhaseByte), b)
			continue
		}
		assert.Equal(t, expectedByte(cmplx.Phase(field[k])), b, "pixel %d", k)
	}
}

func TestCompute_NoTraps(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 8, 16)
	sink := &recordingSink{}
	e := NewEngine()
	e.AddSink(sink)

	h, err := e.Compute(context.Background(), c.Frame(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, h.Height)
	assert.Equal(t, 16, h.Width)
	require.Len(t, h.Phase, 128)
	for _, b := range h.Phase {
		assert.Equal(t, byte(127), b)
	}
	assert.Equal(t, uint64(1), h.Sequence)
	assert.Same(t, h, e.Current())
	require.Len(t, sink.got, 1)
	assert.Same(t, h, sink.got[0])
}

func TestCompute_CentredTweezerIsUniform(t *testing.T) {
	t.Parallel()

	const h, w = 32, 48
	c := onAxis(t, h, w)
	for _, phase := range []float64{0, 1, -2.5, math.Pi / 3} {
		tr := trap.New(trap.Tweezer)
		tr.SetPosition(trap.Vec3{X: w / 2, Y: h / 2})
		tr.SetPhase(phase)

		holo, err := NewEngine().Compute(context.Background(), c.Frame(), []*trap.Trap{tr})
		require.NoError(t, err)
		want := expectedByte(phase)
		for k, b := range holo.Phase {
			if b != want {
				t.Fatalf("phase %v: pixel %d = %d, want %d", phase, k, b, want)
			}
		}
	}
}

func TestSuperpose_TwoTrapFringes(t *testing.T) {
	t.Parallel()

	const period = 16
	c := newCalibration(t, func(p *Parameters) {
		p.Height, p.Width = 4, 64
		p.Xs = 32
		p.Splay = 0
		p.Phis = 0
	})
	f := c.Frame()
	qprp := f.Params.Qprp()
	d := math.Pi / (qprp * period)

	a := trap.New(trap.Tweezer)
	a.SetPosition(trap.Vec3{X: f.Params.Xc - d, Y: f.Params.Yc})
	a.SetPhase(0)
	b := trap.New(trap.Tweezer)
	b.SetPosition(trap.Vec3{X: f.Params.Xc + d, Y: f.Params.Yc})
	b.SetPhase(0)

	acc, err := NewEngine().Superpose(context.Background(), f, []*trap.Trap{a, b})
	require.NoError(t, err)

	assert.InDelta(t, float64(period), 2*math.Pi/(2*qprp*d), 1e-9)
	intensity := func(i, j int) float64 {
		v := acc[i*64+j]
		return real(v)*real(v) + imag(v)*imag(v)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 64; j++ {
			x := float64(j - 32)
			want := 4 * math.Pow(math.Cos(math.Pi*x/period), 2)
			assert.InDelta(t, want, intensity(i, j), 1e-9, "pixel (%d, %d)", i, j)
			if j+period < 64 {
				assert.InDelta(t, intensity(i, j), intensity(i, j+period), 1e-9)
			}
		}
	}
	assert.InDelta(t, 4, intensity(0, 32), 1e-12, "bright fringe on axis")
	assert.InDelta(t, 0, intensity(0, 32+period/2), 1e-12, "dark fringe half a period away")
}

func TestVortexWinding(t *testing.T) {
	t.Parallel()

	const size, radius, samples = 64, 12.0, 400
	c := onAxis(t, size, size)
	f := c.Frame()

	tr := trap.New(trap.Vortex)
	require.NoError(t, tr.SetParam("ell", 2))
	tr.SetPosition(trap.Vec3{X: size / 2, Y: size / 2})

	e := NewEngine()
	s, err := e.structureOf(f, tr)
	require.NoError(t, err)
	require.Len(t, s, size*size)

	angleAt := func(phi float64) float64 {
		i := size/2 + int(math.Round(radius*math.Sin(phi)))
		j := size/2 + int(math.Round(radius*math.Cos(phi)))
		return cmplx.Phase(s[i*size+j])
	}

	total, wraps := 0.0, 0
	prev := angleAt(0)
	for k := 1; k <= samples; k++ {
		cur := angleAt(2 * math.Pi * float64(k) / samples)
		diff := cur - prev
		if diff > math.Pi {
			diff -= 2 * math.Pi
			wraps++
		} else if diff < -math.Pi {
			diff += 2 * math.Pi
			wraps++
		}
		total += diff
		prev = cur
	}
	assert.InDelta(t, 4*math.Pi, total, 1e-9)
	assert.Equal(t, 2, wraps)
}

func TestDirtyFlagMinimality(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 16, 16)
	e := NewEngine()
	ctx := context.Background()
	tr := trap.New(trap.Vortex)
	traps := []*trap.Trap{tr}

	compute := func(wantFields, wantStructures int64) {
		t.Helper()
		_, err := e.Compute(ctx, c.Frame(), traps)
		require.NoError(t, err)
		fields, structures := e.Evaluations()
		assert.Equal(t, wantFields, fields, "field evaluations")
		assert.Equal(t, wantStructures, structures, "structure evaluations")
	}

	compute(1, 1)
	compute(1, 1)

	tr.SetPosition(trap.Vec3{X: 3, Y: 4, Z: 1})
	compute(2, 1)

	tr.SetAmplitude(0.5)
	tr.SetPhase(0.2)
	compute(3, 1)

	require.NoError(t, tr.SetParam("ell", 3))
	compute(3, 2)

	tr.SetState(trap.Selected)
	compute(3, 2)

	require.NoError(t, c.SetCameraPose(1, 1, 0, 30))
	compute(4, 2)

	require.NoError(t, c.SetParameter("wavelength", 0.532))
	compute(5, 3)
}

func TestFieldOf(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 8, 8)
	f := c.Frame()
	e := NewEngine()

	tw := trap.New(trap.Tweezer)
	tw.SetPosition(trap.Vec3{X: 6, Y: 2, Z: 3})
	total, err := e.FieldOf(f, tw)
	require.NoError(t, err)
	field, ok := tw.CachedField(f.Revision)
	require.True(t, ok)
	assert.Equal(t, field, total, "tweezer structure is uniform")
	total[0] = 0
	assert.NotEqual(t, complex128(0), field[0], "FieldOf returns a fresh array")

	vx := trap.New(trap.Vortex)
	require.NoError(t, vx.SetParam("ell", 1))
	total, err = e.FieldOf(f, vx)
	require.NoError(t, err)
	structure, ok := vx.CachedStructure(f.GeometryRevision)
	require.True(t, ok)
	field, _ = vx.CachedField(f.Revision)
	for k := range total {
		assert.InDelta(t, 0, cmplx.Abs(total[k]-field[k]*structure[k]), 1e-15)
	}
}

// expectedField evaluates the focusing field at pixel (i, j) directly
// from the calibration parameters, for thetac = 0.
func expectedField(p Parameters, r trap.Vec3, amplitude, phase float64, i, j int) complex128 {
	dx, dy, dz := r.X-p.Xc, r.Y-p.Yc, r.Z-p.Zc
	fac := 1 / (1 + p.Splay*(dz-p.Zc))
	x, y, z := fac*dx, fac*dy, dz

	xj := math.Cos(p.Phis*math.Pi/180) * (float64(j) - p.Xs)
	yi := float64(i) - p.Ys
	qprp, qpar := p.Qprp(), p.Qpar()
	arg := phase + qprp*xj*x + qpar*xj*xj*z*z - qprp*yi*y + qpar*yi*yi*z*z
	return complex(amplitude, 0) * cmplx.Exp(complex(0, arg))
}

func TestFieldOf_ClosedForm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		splay float64
		phis  float64
		r     trap.Vec3
	}{
		{"axial only", 0, 0, trap.Vec3{X: 8, Y: 8, Z: 3}},
		{"axial and lateral", 0, 0, trap.Vec3{X: 11, Y: 5, Z: -6}},
		{"splay", 0.01, 0, trap.Vec3{X: 11, Y: 5, Z: 20}},
		{"splay and tilt", 0.02, 8, trap.Vec3{X: 3, Y: 12, Z: -15}},
	}
	pixels := [][2]int{{0, 0}, {15, 15}, {3, 12}, {8, 8}, {15, 0}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newCalibration(t, func(p *Parameters) {
				p.Height, p.Width = 16, 16
				p.Xs, p.Ys = 8, 8
				p.Xc, p.Yc, p.Zc = 8, 8, 0
				p.Thetac = 0
				p.Splay = tt.splay
				p.Phis = tt.phis
			})
			f := c.Frame()

			tw := trap.New(trap.Tweezer)
			tw.SetPosition(tt.r)
			tw.SetAmplitude(0.7)
			tw.SetPhase(0.3)
			got, err := NewEngine().FieldOf(f, tw)
			require.NoError(t, err)

			for _, px := range pixels {
				i, j := px[0], px[1]
				want := expectedField(f.Params, tt.r, 0.7, 0.3, i, j)
				assert.InDelta(t, 0, cmplx.Abs(got[i*16+j]-want), 1e-12, "pixel (%d, %d)", i, j)
			}
		})
	}
}

func TestFieldOf_AxialTermIsQuadratic(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 8, 8)
	f := c.Frame()
	tw := trap.New(trap.Tweezer)
	tw.SetPosition(trap.Vec3{X: 4, Y: 4, Z: 3})
	tw.SetAmplitude(1)
	tw.SetPhase(0)
	got, err := NewEngine().FieldOf(f, tw)
	require.NoError(t, err)

	// At (7, 7) both offsets are 3 pixels: phase = 2·qpar·9·z².
	v := got[7*8+7]
	assert.InDelta(t, 18*9*f.Params.Qpar(), cmplx.Phase(v), 1e-12)
	assert.InDelta(t, 0.9999850, real(v), 1e-6)
	assert.InDelta(t, 0.0054695, imag(v), 1e-6)
}

func TestCompute_UnknownKind(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 8, 8)
	sink := &recordingSink{}
	e := NewEngine()
	e.AddSink(sink)
	ctx := context.Background()

	first, err := e.Compute(ctx, c.Frame(), nil)
	require.NoError(t, err)

	good := trap.New(trap.Tweezer)
	bad := trap.New("bessel")
	_, err = e.Compute(ctx, c.Frame(), []*trap.Trap{good, bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, trap.ErrUnknownTrapKind))
	var ke *trap.UnknownKindError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, bad.ID(), ke.TrapID)
	assert.Equal(t, trap.Kind("bessel"), ke.Kind)

	fields, structures := e.Evaluations()
	assert.Zero(t, fields, "fails before computing anything")
	assert.Zero(t, structures)
	assert.Same(t, first, e.Current())
	assert.Len(t, sink.got, 1)

	e.Structures().Register("bessel", func(g *Geometry, _ map[string]float64) []complex128 {
		out := make([]complex128, g.Height*g.Width)
		for k, qr := range g.QR {
			out[k] = complex(math.J0(qr), 0)
		}
		return out
	})
	h, err := e.Compute(ctx, c.Frame(), []*trap.Trap{good, bad})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Sequence)
}

func TestCompute_Cancelled(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 8, 8)
	sink := &recordingSink{}
	e := NewEngine()
	e.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Compute(ctx, c.Frame(), []*trap.Trap{trap.New(trap.Tweezer)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, e.Current())
	assert.Empty(t, sink.got)
}

func TestCompute_RecordsDuration(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.SetStep(5 * time.Millisecond)
	e := NewEngine(WithClock(clock))

	var got []time.Duration
	e.AddSink(SinkFunc(func(h *Hologram) { got = append(got, h.Duration) }))

	h, err := e.Compute(context.Background(), onAxis(t, 4, 4).Frame(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, h.Duration)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), h.ComputedAt)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, got)
}

func TestRingStructure(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 9, 9)
	g := c.Geometry()
	axis := 4*9 + 4

	s := RingStructure(g, map[string]float64{"radius": 10, "ell": 0})
	assert.InDelta(t, 1, real(s[axis]), 1e-15)

	s = RingStructure(g, map[string]float64{"radius": 10, "ell": 1.4})
	assert.InDelta(t, 0, cmplx.Abs(s[axis]), 1e-15, "J1 vanishes on axis")
	k := 4*9 + 8
	want := math.Jn(1, 10*g.QR[k])
	assert.InDelta(t, want, real(s[k]), 1e-12, "theta = 0 along +x")

	assert.Nil(t, TweezerStructure(g, nil))
}

func TestVortexStructure_IntegerCharge(t *testing.T) {
	t.Parallel()

	g := onAxis(t, 9, 9).Geometry()
	assert.Equal(t, VortexStructure(g, map[string]float64{"ell": 2}), VortexStructure(g, map[string]float64{"ell": 1.6}))
	assert.Equal(t, VortexStructure(g, map[string]float64{"ell": -1}), VortexStructure(g, map[string]float64{"ell": -1.2}))
}

func TestWindow(t *testing.T) {
	t.Parallel()

	f := onAxis(t, 64, 64).Frame()
	assert.Equal(t, 1.0, f.Window(trap.Vec3{}))

	prev := 1.0
	for x := 4.0; x <= 32; x += 4 {
		w := f.Window(trap.Vec3{X: x})
		assert.Greater(t, w, prev)
		prev = w
	}
	for _, r := range []trap.Vec3{{X: 1e6}, {X: 128, Y: 128}, {X: -500, Y: 3}} {
		w := f.Window(r)
		assert.LessOrEqual(t, w, 100.0)
		assert.Greater(t, w, 0.0)
	}
}

func TestApertureCompensation(t *testing.T) {
	t.Parallel()

	c := onAxis(t, 8, 8)
	f := c.Frame()
	r := trap.Vec3{X: 4 + 10, Y: 4 - 6}

	plain := trap.New(trap.Tweezer)
	plain.SetPosition(r)
	compensated := plain.Clone()

	a, err := NewEngine().FieldOf(f, plain)
	require.NoError(t, err)
	b, err := NewEngine(WithApertureCompensation(true)).FieldOf(f, compensated)
	require.NoError(t, err)

	scale := f.Window(f.Transform(r))
	assert.Greater(t, scale, 1.0)
	for k := range a {
		assert.InDelta(t, 1, cmplx.Abs(a[k]), 1e-12)
		assert.InDelta(t, scale, cmplx.Abs(b[k]), 1e-12)
	}
}

func TestHologramImage(t *testing.T) {
	t.Parallel()

	h := &Hologram{Height: 2, Width: 3, Phase: []byte{1, 2, 3, 4, 5, 6}}
	img := h.Image()
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	assert.Equal(t, uint8(6), img.GrayAt(2, 1).Y)
}
