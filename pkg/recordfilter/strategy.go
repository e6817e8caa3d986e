package recordfilter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStrategy indicates a strategy keyword that is not recognised.
var ErrUnknownStrategy = errors.New("recordfilter: unknown strategy")

// Strategy selects how a Filter finds record boundaries.
type Strategy uint8

const (
	// JSON parses every record with the incremental JSON parser.
	JSON Strategy = iota
	// Noop forwards everything without looking at it.
	Noop
	// Newline releases everything up to the last newline, checked byte by byte.
	Newline
	// NewlineSIMD is Newline using block scans.
	NewlineSIMD
)

var strategyKeywords = [...]string{
	JSON:        "json",
	Noop:        "noop",
	Newline:     "newline",
	NewlineSIMD: "newlinesimd",
}

var strategyDescriptions = [...]string{
	JSON:        "full json parser",
	Noop:        "noop",
	Newline:     "newline",
	NewlineSIMD: "newline with simd",
}

// Strategies lists every strategy in keyword order.
func Strategies() []Strategy {
	return []Strategy{JSON, Noop, Newline, NewlineSIMD}
}

// ParseStrategy maps a configuration keyword to a Strategy. The empty string
// selects JSON.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return JSON, nil
	}
	for s, kw := range strategyKeywords {
		if kw == name {
			return Strategy(s), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownStrategy, name, strings.Join(strategyKeywords[:], ", "))
}

// String returns the configuration keyword.
func (s Strategy) String() string {
	if int(s) < len(strategyKeywords) {
		return strategyKeywords[s]
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// Description is the human-readable name used in logs.
func (s Strategy) Description() string {
	if int(s) < len(strategyDescriptions) {
		return strategyDescriptions[s]
	}
	return s.String()
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
