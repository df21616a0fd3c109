package trap

import (
	"fmt"
	"image/color"
)

// State is the interaction state of a trap. It drives display styling
// only and never invalidates computed fields.
type State int

const (
	Static State = iota
	Normal
	Selected
	Grouping
	Special
)

var stateNames = [...]string{
	Static:   "static",
	Normal:   "normal",
	Selected: "selected",
	Grouping: "grouping",
	Special:  "special",
}

// brushes are the spot fill colours keyed by state.
var brushes = [...]color.RGBA{
	Static:   {R: 255, G: 255, B: 255, A: 120},
	Normal:   {R: 100, G: 255, B: 100, A: 120},
	Selected: {R: 255, G: 105, B: 180, A: 120},
	Grouping: {R: 255, G: 255, B: 100, A: 120},
	Special:  {R: 238, G: 130, B: 238, A: 120},
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Color returns the display colour for s. Unknown states render as Normal.
func (s State) Color() color.RGBA {
	if s < 0 || int(s) >= len(brushes) {
		return brushes[Normal]
	}
	return brushes[s]
}

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Normal, fmt.Errorf("unknown trap state %q", name)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
