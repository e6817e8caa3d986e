package jsonrec

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrIncomplete indicates the data ended before the record did. More
	// bytes may complete it.
	ErrIncomplete = errors.New("jsonrec: incomplete record")

	// ErrMalformed indicates bytes that cannot start or continue any JSON
	// value, no matter what arrives next.
	ErrMalformed = errors.New("jsonrec: malformed record")

	// ErrEmpty indicates only whitespace remained before the end of the data.
	ErrEmpty = errors.New("jsonrec: no value before end of input")
)

// SyntaxError describes where and why parsing stopped.
type SyntaxError struct {
	Offset int    // Bytes taken from the segment when the error was detected
	Reason string // Human-readable explanation
	err    error  // ErrIncomplete or ErrMalformed
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("jsonrec: syntax error at offset %d: %s", e.Offset, e.Reason)
}

func (e *SyntaxError) Unwrap() error {
	return e.err
}

// Incomplete reports whether the error happened at the end of the data.
func (e *SyntaxError) Incomplete() bool {
	return e.err == ErrIncomplete
}
