package store

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a missing schedule row.
var ErrNotFound = errors.New("schedule not found")

// ErrUnavailable wraps every persistence failure so callers can map any
// storage-layer problem to a single error class. Callers must not assume a
// partial write succeeded when they see it.
var ErrUnavailable = errors.New("schedule store unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
