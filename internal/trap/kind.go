package trap

import (
	"sort"
	"sync"
)

// Kind tags the mode structure of a trap. The hologram engine dispatches
// on it to a registered structure function.
type Kind string

const (
	Tweezer Kind = "tweezer"
	Vortex  Kind = "vortex"
	Ring    Kind = "ring"
)

// Param is a kind-specific shape parameter and its default value.
type Param struct {
	Name    string
	Default float64
}

type kindSpec struct {
	symbol string
	params []Param
}

var (
	kindsMu sync.RWMutex
	kinds   = map[Kind]kindSpec{
		Tweezer: {symbol: "o"},
		Vortex:  {symbol: "V", params: []Param{{Name: "ell", Default: 0}}},
		Ring:    {symbol: "O", params: []Param{{Name: "radius", Default: 10}, {Name: "ell", Default: 0}}},
	}
)

// RegisterKind declares a trap kind with its display symbol and shape
// parameters. Registering an existing kind replaces it.
func RegisterKind(kind Kind, symbol string, params ...Param) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = kindSpec{symbol: symbol, params: append([]Param(nil), params...)}
}

// Kinds returns the declared kinds in name order.
func Kinds() []Kind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lookupKind(kind Kind) (kindSpec, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	spec, ok := kinds[kind]
	return spec, ok
}
