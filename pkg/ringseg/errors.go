package ringseg

import (
	"errors"
	"fmt"
)

// ErrBounds indicates a segment descriptor that does not fit its buffer.
var ErrBounds = errors.New("ringseg: index out of bounds")

// BoundsError describes which part of a segment descriptor was out of range.
type BoundsError struct {
	Field string // cursor, limit, start or length
	Index int
	Size  int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("ringseg: %s %d out of bounds for buffer of %d bytes", e.Field, e.Index, e.Size)
}

func (e *BoundsError) Unwrap() error {
	return ErrBounds
}
