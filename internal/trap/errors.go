package trap

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCoordinate is returned for position input that has
	// neither 2 nor 3 components.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrUnknownProperty is returned by SetProperty for a name the trap
	// does not expose.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrUnknownTrapKind is returned when a hologram is requested for a
	// trap whose kind has no registered structure.
	ErrUnknownTrapKind = errors.New("unknown trap kind")
)

// CoordinateError records the arity of a rejected position.
type CoordinateError struct {
	Components int
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate: got %d components, want 2 or 3", e.Components)
}

func (e *CoordinateError) Is(target error) bool { return target == ErrInvalidCoordinate }

// UnknownKindError identifies the trap whose kind could not be rendered.
type UnknownKindError struct {
	TrapID ID
	Kind   Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("trap %s: no structure registered for kind %q", e.TrapID, e.Kind)
}

func (e *UnknownKindError) Is(target error) bool { return target == ErrUnknownTrapKind }
