package pattern

import (
	"errors"
	"fmt"

	"github.com/banshee-data/holofab/internal/trap"
)

var (
	// ErrEmptySelection reports a grouping request with fewer than two
	// candidates. The pattern is left untouched.
	ErrEmptySelection = errors.New("empty selection")

	// ErrDanglingReference is returned for an ID the pattern does not own.
	ErrDanglingReference = errors.New("dangling reference")
)

// DanglingError names the unknown ID.
type DanglingError struct {
	ID trap.ID
}

func (e *DanglingError) Error() string {
	return fmt.Sprintf("dangling reference: %s is not in the pattern", e.ID)
}

func (e *DanglingError) Is(target error) bool { return target == ErrDanglingReference }
