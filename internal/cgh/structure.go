package cgh

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/banshee-data/holofab/internal/trap"
)

// StructureFunc computes the mode structure of a trap kind over the SLM
// geometry as a row-major Height×Width array. A nil result denotes the
// uniform mode and costs nothing to apply.
type StructureFunc func(g *Geometry, params map[string]float64) []complex128

// Registry maps trap kinds to structure functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[trap.Kind]StructureFunc
}

// NewRegistry returns a registry holding the built-in kinds.
func NewRegistry() *Registry {
	return &Registry{funcs: map[trap.Kind]StructureFunc{
		trap.Tweezer: TweezerStructure,
		trap.Vortex:  VortexStructure,
		trap.Ring:    RingStructure,
	}}
}

// Register adds or replaces the structure function of a kind.
func (r *Registry) Register(kind trap.Kind, fn StructureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[kind] = fn
}

// Lookup returns the structure function of a kind.
func (r *Registry) Lookup(kind trap.Kind) (StructureFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[kind]
	return fn, ok
}

// TweezerStructure is the plain focused spot.
func TweezerStructure(*Geometry, map[string]float64) []complex128 {
	return nil
}

// VortexStructure is an optical vortex of integer topological charge
// ell: exp(i·ell·theta). ell is rounded to the nearest integer.
func VortexStructure(g *Geometry, params map[string]float64) []complex128 {
	ell := math.Round(params["ell"])
	out := make([]complex128, len(g.Theta))
	for k, theta := range g.Theta {
		out[k] = cmplx.Exp(complex(0, ell*theta))
	}
	return out
}

// RingStructure is a ring trap of the given radius and integer charge
// ell: J_ell(radius·qr)·exp(i·ell·theta).
func RingStructure(g *Geometry, params map[string]float64) []complex128 {
	ell := math.Round(params["ell"])
	radius := params["radius"]
	n := int(ell)
	out := make([]complex128, len(g.Theta))
	for k, theta := range g.Theta {
		amp := math.Jn(n, radius*g.QR[k])
		out[k] = complex(amp, 0) * cmplx.Exp(complex(0, ell*theta))
	}
	return out
}
