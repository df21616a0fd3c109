// Package trap models a single optical trap: a 3-D point source with an
// amplitude, a phase and a kind-specific mode structure. Traps carry the
// dirty-flag protocol the hologram engine uses to recompute only what
// changed.
package trap

import (
	"fmt"
	"image/color"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
)

// ID identifies a trap or group within a pattern.
type ID = uuid.UUID

// Nil is the zero ID. It names the pattern root.
var Nil = uuid.Nil

// ParseID parses the string form of an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// Trap is a leaf of the trapping pattern. A Trap is not safe for
// concurrent use; the owning pattern serialises access and hands clones
// to the hologram engine.
type Trap struct {
	id     ID
	kind   Kind
	symbol string
	names  []string
	params map[string]float64

	r         Vec3
	origin    Vec3
	amplitude float64
	phase     float64
	state     State

	// Caches are replaced wholesale, never written in place, so clones
	// may share them.
	field          []complex128
	structure      []complex128
	fieldStamp     uint64
	structureStamp uint64
	needsField     bool
	needsStructure bool
	fieldRev       uint64
	structureRev   uint64
}

// New returns a trap of the given kind at the origin with unit amplitude
// and a random phase in [0, 2π).
func New(kind Kind) *Trap {
	t := &Trap{
		id:             uuid.New(),
		kind:           kind,
		symbol:         "o",
		params:         make(map[string]float64),
		amplitude:      1,
		phase:          2 * math.Pi * rand.Float64(),
		state:          Normal,
		needsField:     true,
		needsStructure: true,
	}
	if spec, ok := lookupKind(kind); ok {
		t.symbol = spec.symbol
		for _, p := range spec.params {
			t.names = append(t.names, p.Name)
			t.params[p.Name] = p.Default
		}
	}
	return t
}

func (t *Trap) ID() ID             { return t.id }
func (t *Trap) Kind() Kind         { return t.kind }
func (t *Trap) R() Vec3            { return t.r }
func (t *Trap) Origin() Vec3       { return t.origin }
func (t *Trap) Amplitude() float64 { return t.amplitude }
func (t *Trap) Phase() float64     { return t.phase }
func (t *Trap) State() State       { return t.state }

// SetPosition moves the trap.
func (t *Trap) SetPosition(r Vec3) {
	t.r = r
	t.touchField()
}

// SetOrigin records the reference point for relative group motion.
// It does not affect the computed field.
func (t *Trap) SetOrigin(o Vec3) {
	t.origin = o
}

func (t *Trap) SetAmplitude(a float64) {
	t.amplitude = a
	t.touchField()
}

func (t *Trap) SetPhase(p float64) {
	t.phase = p
	t.touchField()
}

// SetState changes the display state. Cached fields stay valid.
func (t *Trap) SetState(s State) {
	t.state = s
}

// Param returns the named shape parameter.
func (t *Trap) Param(name string) (float64, bool) {
	v, ok := t.params[name]
	return v, ok
}

// Params returns a copy of the shape parameters.
func (t *Trap) Params() map[string]float64 {
	out := make(map[string]float64, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// SetParam writes a shape parameter and invalidates the structure.
func (t *Trap) SetParam(name string, v float64) error {
	if _, ok := t.params[name]; !ok {
		return fmt.Errorf("%w: %s has no parameter %q", ErrUnknownProperty, t.kind, name)
	}
	t.params[name] = v
	t.touchStructure()
	return nil
}

// Properties lists the names accepted by SetProperty in display order.
func (t *Trap) Properties() []string {
	return append([]string{"x", "y", "z", "amplitude", "phase"}, t.names...)
}

// SetProperty writes a property by name.
func (t *Trap) SetProperty(name string, v float64) error {
	switch name {
	case "x":
		t.SetPosition(Vec3{X: v, Y: t.r.Y, Z: t.r.Z})
	case "y":
		t.SetPosition(Vec3{X: t.r.X, Y: v, Z: t.r.Z})
	case "z":
		t.SetPosition(Vec3{X: t.r.X, Y: t.r.Y, Z: v})
	case "amplitude":
		t.SetAmplitude(v)
	case "phase":
		t.SetPhase(v)
	default:
		return t.SetParam(name, v)
	}
	return nil
}

// Settings returns the property values as a flat mapping.
func (t *Trap) Settings() map[string]float64 {
	out := map[string]float64{
		"x":         t.r.X,
		"y":         t.r.Y,
		"z":         t.r.Z,
		"amplitude": t.amplitude,
		"phase":     t.phase,
	}
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

// Recalculate marks both caches stale, as after a calibration change.
func (t *Trap) Recalculate() {
	t.touchField()
	t.touchStructure()
}

func (t *Trap) touchField() {
	t.needsField = true
	t.fieldRev++
}

func (t *Trap) touchStructure() {
	t.needsStructure = true
	t.structureRev++
}

func (t *Trap) NeedsField() bool     { return t.needsField }
func (t *Trap) NeedsStructure() bool { return t.needsStructure }

// Revisions returns the field and structure write counters.
func (t *Trap) Revisions() (field, structure uint64) {
	return t.fieldRev, t.structureRev
}

// CachedField returns the cached field if it is clean and was computed
// against calibration revision cal.
func (t *Trap) CachedField(cal uint64) ([]complex128, bool) {
	if t.needsField || t.field == nil || t.fieldStamp != cal {
		return nil, false
	}
	return t.field, true
}

// StoreField caches a freshly computed field.
func (t *Trap) StoreField(f []complex128, cal uint64) {
	t.field = f
	t.fieldStamp = cal
	t.needsField = false
}

// CachedStructure returns the cached structure if it is clean and was
// computed against calibration revision cal. A nil structure with ok set
// denotes the uniform mode.
func (t *Trap) CachedStructure(cal uint64) ([]complex128, bool) {
	if t.needsStructure || t.structureStamp != cal {
		return nil, false
	}
	return t.structure, true
}

// StoreStructure caches a freshly computed structure.
func (t *Trap) StoreStructure(s []complex128, cal uint64) {
	t.structure = s
	t.structureStamp = cal
	t.needsStructure = false
}

// Clone returns a copy that shares the immutable cache arrays.
func (t *Trap) Clone() *Trap {
	c := *t
	c.names = append([]string(nil), t.names...)
	c.params = make(map[string]float64, len(t.params))
	for k, v := range t.params {
		c.params[k] = v
	}
	return &c
}

// AdoptCaches takes the caches computed on a clone of t. Each cache is
// adopted only if t has not been written since the clone was taken.
func (t *Trap) AdoptCaches(c *Trap) bool {
	if c.id != t.id {
		return false
	}
	adopted := false
	if !c.needsField && c.fieldRev == t.fieldRev {
		t.field, t.fieldStamp, t.needsField = c.field, c.fieldStamp, false
		adopted = true
	}
	if !c.needsStructure && c.structureRev == t.structureRev {
		t.structure, t.structureStamp, t.needsStructure = c.structure, c.structureStamp, false
		adopted = true
	}
	return adopted
}

// Spot is the rendering view of a trap.
type Spot struct {
	ID     ID         `json:"id"`
	Kind   Kind       `json:"kind"`
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Size   float64    `json:"size"`
	Color  color.RGBA `json:"color"`
	Symbol string     `json:"symbol"`
	State  State      `json:"state"`
}

// Spot returns the marker for the trap. Size shrinks with height above
// the focal plane as a depth cue.
func (t *Trap) Spot() Spot {
	size := math.Max(10, math.Min(35, 15-t.r.Z/20))
	return Spot{
		ID:     t.id,
		Kind:   t.kind,
		X:      t.r.X,
		Y:      t.r.Y,
		Size:   size,
		Color:  t.state.Color(),
		Symbol: t.symbol,
		State:  t.state,
	}
}
