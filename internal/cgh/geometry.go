package cgh

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/holofab/internal/trap"
)

// Geometry holds the position-dependent factors of the SLM plane for a
// Height×Width hologram. Per-column arrays have length Width, per-row
// arrays length Height, and Theta and QR are row-major Height×Width.
type Geometry struct {
	Height int
	Width  int

	X []float64 // alpha·(j − xs)
	Y []float64 // i − ys

	IQX  []complex128 // i·qprp·x
	IQY  []complex128 // −i·qprp·y
	IQXZ []complex128 // i·qpar·x²
	IQYZ []complex128 // i·qpar·y²

	Theta []float64 // atan2(y, x)
	QR    []float64 // hypot(qprp·y, qprp·x)
}

func buildGeometry(p Parameters) *Geometry {
	h, w := p.Height, p.Width
	qprp, qpar := p.Qprp(), p.Qpar()
	alpha := math.Cos(p.Phis * math.Pi / 180)

	x := make([]float64, w)
	if w > 1 {
		floats.Span(x, 0, float64(w-1))
	}
	floats.AddConst(-p.Xs, x)
	floats.Scale(alpha, x)

	y := make([]float64, h)
	if h > 1 {
		floats.Span(y, 0, float64(h-1))
	}
	floats.AddConst(-p.Ys, y)

	g := &Geometry{
		Height: h,
		Width:  w,
		X:      x,
		Y:      y,
		IQX:    make([]complex128, w),
		IQY:    make([]complex128, h),
		IQXZ:   make([]complex128, w),
		IQYZ:   make([]complex128, h),
		Theta:  make([]float64, h*w),
		QR:     make([]float64, h*w),
	}
	for j, xj := range x {
		g.IQX[j] = complex(0, qprp*xj)
		g.IQXZ[j] = complex(0, qpar*xj*xj)
	}
	for i, yi := range y {
		g.IQY[i] = complex(0, -qprp*yi)
		g.IQYZ[i] = complex(0, qpar*yi*yi)
	}
	for i, yi := range y {
		row := i * w
		for j, xj := range x {
			g.Theta[row+j] = math.Atan2(yi, xj)
			g.QR[row+j] = math.Hypot(qprp*yi, qprp*xj)
		}
	}
	return g
}

// Frame is a consistent, read-only view of the calibration used for a
// single compute. Revision changes on every calibration write;
// GeometryRevision only when the geometry changes.
type Frame struct {
	Revision         uint64
	GeometryRevision uint64
	Params           Parameters
	Matrix           *mat.Dense
	Geometry         *Geometry
}

// Transform maps a requested trap position into trap space: rotation and
// translation about the calibrated focus, then axial splay of the
// transverse coordinates.
func (f *Frame) Transform(r trap.Vec3) trap.Vec3 {
	v := mat.NewVecDense(4, []float64{r.X, r.Y, r.Z, 1})
	var out mat.VecDense
	out.MulVec(f.Matrix, v)
	x, y, z := out.AtVec(0), out.AtVec(1), out.AtVec(2)
	fac := 1 / (1 + f.Params.Splay*(z-f.Params.Zc))
	return trap.Vec3{X: fac * x, Y: fac * y, Z: z}
}

// Window is the amplitude correction for the finite aperture at trap
// space position r, capped at 100.
func (f *Frame) Window(r trap.Vec3) float64 {
	a := 0.5 * math.Pi * r.X / float64(f.Params.Width)
	b := 0.5 * math.Pi * r.Y / float64(f.Params.Height)
	fac := 1 / (sinc(a) * sinc(b))
	return math.Min(math.Abs(fac), 100)
}

// sinc is the normalised sinc function, sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}
