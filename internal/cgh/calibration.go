// Package cgh computes phase-only computer-generated holograms for a set
// of traps from the instrument calibration.
//
// Requested trap coordinates are measured in camera pixels relative to
// the calibrated zeroth-order focus rc. They are rotated by the camera
// orientation into the SLM frame and mapped onto per-phixel phase ramps
// whose scale is set by the calibrated wavenumbers qprp and qpar.
package cgh

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/holofab/internal/monitoring"
)

var (
	// ErrUnknownParameter is returned for a calibration name that does
	// not exist.
	ErrUnknownParameter = errors.New("unknown calibration parameter")

	// ErrInvalidValue is returned for a calibration value that would make
	// the model singular.
	ErrInvalidValue = errors.New("invalid calibration value")
)

// Parameters is the optical and geometric calibration of the instrument.
type Parameters struct {
	Wavelength    float64 // vacuum wavelength [um]
	NMedium       float64 // refractive index of medium
	Magnification float64 // magnification of objective lens
	FocalLength   float64 // focal length of lens [um]
	CameraPitch   float64 // [um/pixel]
	SLMPitch      float64 // [um/phixel]
	Scale         float64 // SLM scale factor
	Splay         float64 // axial splay

	Xs   float64 // optical axis in SLM plane [phixels]
	Ys   float64
	Phis float64 // tilt of SLM [degrees]

	Xc     float64 // optical axis in camera plane [pixels]
	Yc     float64
	Zc     float64
	Thetac float64 // orientation of camera [degrees]

	Height int
	Width  int
}

// DefaultParameters returns the calibration of the reference instrument.
func DefaultParameters() Parameters {
	return Parameters{
		Wavelength:    1.064,
		NMedium:       1.340,
		Magnification: 100,
		FocalLength:   200,
		CameraPitch:   4.8,
		SLMPitch:      8,
		Scale:         3,
		Splay:         0.01,
		Xs:            256,
		Ys:            256,
		Phis:          8,
		Xc:            320,
		Yc:            240,
		Zc:            0,
		Thetac:        0,
		Height:        512,
		Width:         512,
	}
}

// Wavenumber of the trapping light in the medium [radians/um].
func (p Parameters) Wavenumber() float64 {
	return 2 * math.Pi * p.NMedium / p.Wavelength
}

// Qprp is the in-plane displacement factor [radians/(pixel phixel)].
func (p Parameters) Qprp() float64 {
	cfactor := p.CameraPitch / p.Magnification // [um/pixel]
	sfactor := p.SLMPitch / p.Scale             // [um/phixel]
	return (p.Wavenumber() / p.FocalLength) * cfactor * sfactor
}

// Qpar is the axial displacement factor [radians/(pixel phixel^2)].
func (p Parameters) Qpar() float64 {
	sfactor := p.SLMPitch / p.Scale
	return p.Qprp() * sfactor / (2 * p.FocalLength)
}

type paramGroup int

const (
	cameraGroup paramGroup = iota
	geometryGroup
)

// ParameterNames lists the settable calibration names in display order.
var ParameterNames = []string{
	"wavelength", "n_m", "magnification", "focallength",
	"camerapitch", "slmpitch", "scale", "splay",
	"xs", "ys", "phis",
	"xc", "yc", "zc", "thetac",
	"height", "width",
}

// scalar returns the address and cache group of a real-valued parameter.
func (p *Parameters) scalar(name string) (*float64, paramGroup, bool) {
	switch name {
	case "wavelength":
		return &p.Wavelength, geometryGroup, true
	case "n_m":
		return &p.NMedium, geometryGroup, true
	case "magnification":
		return &p.Magnification, geometryGroup, true
	case "focallength":
		return &p.FocalLength, geometryGroup, true
	case "camerapitch":
		return &p.CameraPitch, geometryGroup, true
	case "slmpitch":
		return &p.SLMPitch, geometryGroup, true
	case "scale":
		return &p.Scale, geometryGroup, true
	case "splay":
		return &p.Splay, geometryGroup, true
	case "xs":
		return &p.Xs, geometryGroup, true
	case "ys":
		return &p.Ys, geometryGroup, true
	case "phis":
		return &p.Phis, geometryGroup, true
	case "xc":
		return &p.Xc, cameraGroup, true
	case "yc":
		return &p.Yc, cameraGroup, true
	case "zc":
		return &p.Zc, cameraGroup, true
	case "thetac":
		return &p.Thetac, cameraGroup, true
	}
	return nil, 0, false
}

func checkValue(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s = %v", ErrInvalidValue, name, v)
	}
	switch name {
	case "wavelength", "n_m", "magnification", "focallength", "camerapitch", "slmpitch", "scale":
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidValue, name, v)
		}
	case "height", "width":
		if v < 1 || v != math.Trunc(v) {
			return fmt.Errorf("%w: %s must be a positive integer, got %v", ErrInvalidValue, name, v)
		}
	}
	return nil
}

// Calibration holds the calibration parameters and the two caches derived
// from them: the camera transform, which depends on (xc, yc, zc, thetac)
// only, and the SLM geometry, which depends on everything else. A write
// invalidates exactly one cache. Caches are rebuilt lazily by Frame and
// replaced, never modified, so frames handed out earlier stay valid.
type Calibration struct {
	mu     sync.Mutex
	params Parameters

	revision    uint64
	geometryRev uint64
	transform   *mat.Dense
	geometry    *Geometry

	transformBuilds int
	geometryBuilds  int

	listenersMu sync.Mutex
	listeners   []func()
}

// NewCalibration returns a calibration with the given parameters.
func NewCalibration(p Parameters) (*Calibration, error) {
	for _, name := range ParameterNames {
		v, _ := p.get(name)
		if err := checkValue(name, v); err != nil {
			return nil, err
		}
	}
	return &Calibration{params: p, revision: 1, geometryRev: 1}, nil
}

func (p *Parameters) get(name string) (float64, bool) {
	switch name {
	case "height":
		return float64(p.Height), true
	case "width":
		return float64(p.Width), true
	}
	ptr, _, ok := p.scalar(name)
	if !ok {
		return 0, false
	}
	return *ptr, true
}

// OnRecalculate registers fn to be called after every parameter write.
// Callbacks run without the calibration lock held.
func (c *Calibration) OnRecalculate(fn func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Calibration) notify() {
	c.listenersMu.Lock()
	fns := append([]func(){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Parameters returns the current parameters.
func (c *Calibration) Parameters() Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Revision increases on every write.
func (c *Calibration) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Builds returns how many times each cache has been rebuilt.
func (c *Calibration) Builds() (transform, geometry int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transformBuilds, c.geometryBuilds
}

// invalidate must be called with c.mu held.
func (c *Calibration) invalidate(g paramGroup) {
	c.revision++
	switch g {
	case cameraGroup:
		c.transform = nil
	case geometryGroup:
		c.geometryRev = c.revision
		c.geometry = nil
	}
}

// SetCameraPose sets the optical axis in the camera plane and the camera
// orientation in degrees. Only the transform is invalidated.
func (c *Calibration) SetCameraPose(xc, yc, zc, thetac float64) error {
	for name, v := range map[string]float64{"xc": xc, "yc": yc, "zc": zc, "thetac": thetac} {
		if err := checkValue(name, v); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.params.Xc, c.params.Yc, c.params.Zc, c.params.Thetac = xc, yc, zc, thetac
	c.invalidate(cameraGroup)
	c.mu.Unlock()
	monitoring.Debugf("[cgh] camera pose (%.2f, %.2f, %.2f) @ %.2f deg", xc, yc, zc, thetac)
	c.notify()
	return nil
}

// SetGeometryParameter sets one of the optical or SLM-plane parameters.
// Only the geometry is invalidated.
func (c *Calibration) SetGeometryParameter(name string, v float64) error {
	var probe Parameters
	if _, g, ok := probe.scalar(name); !ok || g != geometryGroup {
		return fmt.Errorf("%w: %q is not a geometry parameter", ErrUnknownParameter, name)
	}
	return c.SetParameter(name, v)
}

// SetShape sets the hologram shape. Only the geometry is invalidated.
func (c *Calibration) SetShape(height, width int) error {
	if err := checkValue("height", float64(height)); err != nil {
		return err
	}
	if err := checkValue("width", float64(width)); err != nil {
		return err
	}
	c.mu.Lock()
	c.params.Height, c.params.Width = height, width
	c.invalidate(geometryGroup)
	c.mu.Unlock()
	monitoring.Debugf("[cgh] hologram shape %dx%d", height, width)
	c.notify()
	return nil
}

// SetParameter writes a parameter by name and invalidates the cache that
// depends on it.
func (c *Calibration) SetParameter(name string, v float64) error {
	if err := c.set(name, v); err != nil {
		return err
	}
	c.notify()
	return nil
}

func (c *Calibration) set(name string, v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "height" || name == "width" {
		if err := checkValue(name, v); err != nil {
			return err
		}
		if name == "height" {
			c.params.Height = int(v)
		} else {
			c.params.Width = int(v)
		}
		c.invalidate(geometryGroup)
		return nil
	}
	ptr, g, ok := c.params.scalar(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	if err := checkValue(name, v); err != nil {
		return err
	}
	*ptr = v
	c.invalidate(g)
	monitoring.Debugf("[cgh] %s = %g", name, v)
	return nil
}

// Settings returns the parameters as a flat name→value mapping.
func (c *Calibration) Settings() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(ParameterNames))
	for _, name := range ParameterNames {
		out[name], _ = c.params.get(name)
	}
	return out
}

// ApplySettings writes every entry of a flat name→value mapping. Names are
// checked before anything is written, so a bad entry leaves the
// calibration unchanged. Listeners are notified once.
func (c *Calibration) ApplySettings(settings map[string]float64) error {
	var probe Parameters
	for name, v := range settings {
		if _, ok := probe.get(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
		}
		if err := checkValue(name, v); err != nil {
			return err
		}
	}
	if len(settings) == 0 {
		return nil
	}
	for name, v := range settings {
		if err := c.set(name, v); err != nil {
			return err
		}
	}
	c.notify()
	return nil
}

// TransformMatrix returns a copy of the camera-to-trap-space transform,
// rotation by thetac about the optical axis composed with translation by
// -rc.
func (c *Calibration) TransformMatrix() *mat.Dense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return mat.DenseCopyOf(c.transformLocked())
}

// Geometry returns the per-pixel SLM geometry.
func (c *Calibration) Geometry() *Geometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geometryLocked()
}

func (c *Calibration) transformLocked() *mat.Dense {
	if c.transform == nil {
		c.transform = buildTransform(c.params)
		c.transformBuilds++
		monitoring.Debugf("[cgh] updated transformation matrix")
	}
	return c.transform
}

func (c *Calibration) geometryLocked() *Geometry {
	if c.geometry == nil {
		c.geometry = buildGeometry(c.params)
		c.geometryBuilds++
		monitoring.Debugf("[cgh] updated geometry %dx%d", c.params.Height, c.params.Width)
	}
	return c.geometry
}

// Frame returns an immutable view of the calibration for one compute.
func (c *Calibration) Frame() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Frame{
		Revision:         c.revision,
		GeometryRevision: c.geometryRev,
		Params:           c.params,
		Matrix:           c.transformLocked(),
		Geometry:         c.geometryLocked(),
	}
}

func buildTransform(p Parameters) *mat.Dense {
	theta := p.Thetac * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	rot := mat.NewDense(4, 4, []float64{
		cos, -sin, 0, 0,
		sin, cos, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	shift := mat.NewDense(4, 4, []float64{
		1, 0, 0, -p.Xc,
		0, 1, 0, -p.Yc,
		0, 0, 1, -p.Zc,
		0, 0, 0, 1,
	})
	var m mat.Dense
	m.Mul(rot, shift)
	return &m
}
