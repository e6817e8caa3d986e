package jsonrec

import (
	"fmt"

	"github.com/epithet-ssh/jsonflt/pkg/ringseg"
)

// Status is the outcome tag of one parse.
type Status uint8

const (
	Failure Status = iota
	Success
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// Outcome is the result of parsing one value.
type Outcome struct {
	Status Status

	// Cursor is the absolute buffer index of the first byte after the value.
	// It may sit before the starting cursor when the value crossed the wrap
	// point. Only meaningful on Success or when Err is ErrEmpty.
	Cursor int

	// Read is the number of bytes taken from the segment, including any
	// byte order mark and leading whitespace.
	Read int

	// Err is nil on Success. Otherwise it is a *SyntaxError or ErrEmpty.
	Err error
}

// Parser reads exactly one JSON value from a segment. It checks syntax only
// and builds nothing. A Parser holds configuration alone and may be shared.
type Parser struct {
	maxDepth int
}

// NewParser creates a parser.
func NewParser(opts ...Option) *Parser {
	cfg := newConfig(opts)
	return &Parser{maxDepth: cfg.maxDepth}
}

// ParseOne parses one value starting at the segment's cursor and stops as soon
// as that value is complete. Leading whitespace and a UTF-8 byte order mark are
// skipped. Nothing after the value is read, not even whitespace.
//
// On failure the returned Cursor must be ignored; a later call has to start
// again from the segment's original cursor.
func (p *Parser) ParseOne(seg ringseg.Segment) Outcome {
	stream := ringseg.NewCursorStream(seg)
	if err := sniffEncoding(stream); err != nil {
		return Outcome{Status: Failure, Read: stream.Tell(), Err: err}
	}

	r := ringseg.NewBOMReader(stream)
	if bom := r.Tell(); bom > 0 && bom < 3 && r.Done() {
		return Outcome{Status: Failure, Read: bom, Err: incomplete(r, "truncated byte order mark")}
	}

	d := decodeState{r: r, maxDepth: p.maxDepth}
	d.skipSpace()
	if r.Done() {
		return Outcome{Status: Failure, Cursor: stream.Pos(), Read: r.Tell(), Err: ErrEmpty}
	}

	if err := d.value(); err != nil {
		return Outcome{Status: Failure, Read: r.Tell(), Err: err}
	}
	return Outcome{Status: Success, Cursor: stream.Pos(), Read: r.Tell()}
}

// sniffEncoding rejects UTF-16 and UTF-32 input. It only looks when four
// contiguous bytes are available and never reads across the wrap point.
func sniffEncoding(s *ringseg.CursorStream) error {
	b, ok := s.Peek4()
	if !ok {
		return nil
	}
	switch {
	case b[0] == 0xFE && b[1] == 0xFF, b[0] == 0xFF && b[1] == 0xFE:
		return malformedAt(0, "UTF-16 byte order mark; only UTF-8 is supported")
	case b[0] == 0 || b[1] == 0:
		return malformedAt(0, "NUL in leading bytes; input looks like UTF-16 or UTF-32")
	}
	return nil
}

// decodeState is the per-call state of one parse.
type decodeState struct {
	r        ringseg.ByteStream
	depth    int
	maxDepth int
}

func incomplete(r ringseg.ByteStream, reason string) error {
	return &SyntaxError{Offset: r.Tell(), Reason: reason, err: ErrIncomplete}
}

func malformedAt(offset int, reason string) error {
	return &SyntaxError{Offset: offset, Reason: reason, err: ErrMalformed}
}

// unexpected classifies a failure at the current position: the end of the
// data is incomplete, anything else is malformed.
func (d *decodeState) unexpected(want string) error {
	if d.r.Done() {
		return incomplete(d.r, "unexpected end of data: expected "+want)
	}
	return malformedAt(d.r.Tell(), fmt.Sprintf("expected %s, got %q", want, rune(d.r.Peek())))
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func (d *decodeState) skipSpace() {
	for !d.r.Done() && isSpace(d.r.Peek()) {
		d.r.Take()
	}
}

func (d *decodeState) value() error {
	if d.r.Done() {
		return d.unexpected("value")
	}
	switch c := d.r.Peek(); {
	case c == '{':
		return d.object()
	case c == '[':
		return d.array()
	case c == '"':
		return d.quoted()
	case c == 't':
		return d.literal("true")
	case c == 'f':
		return d.literal("false")
	case c == 'n':
		return d.literal("null")
	case c == '-' || isDigit(c):
		return d.number()
	default:
		return d.unexpected("value")
	}
}

func (d *decodeState) enter() error {
	d.depth++
	if d.depth > d.maxDepth {
		return malformedAt(d.r.Tell(), fmt.Sprintf("nesting depth exceeds %d", d.maxDepth))
	}
	return nil
}

func (d *decodeState) object() error {
	d.r.Take() // '{'
	if err := d.enter(); err != nil {
		return err
	}

	d.skipSpace()
	if !d.r.Done() && d.r.Peek() == '}' {
		d.r.Take()
		d.depth--
		return nil
	}

	for {
		if d.r.Done() || d.r.Peek() != '"' {
			return d.unexpected("object key")
		}
		if err := d.quoted(); err != nil {
			return err
		}

		d.skipSpace()
		if d.r.Done() || d.r.Peek() != ':' {
			return d.unexpected("':' after object key")
		}
		d.r.Take()

		d.skipSpace()
		if err := d.value(); err != nil {
			return err
		}

		d.skipSpace()
		if d.r.Done() {
			return d.unexpected("',' or '}'")
		}
		switch d.r.Peek() {
		case ',':
			d.r.Take()
			d.skipSpace()
		case '}':
			d.r.Take()
			d.depth--
			return nil
		default:
			return d.unexpected("',' or '}'")
		}
	}
}

func (d *decodeState) array() error {
	d.r.Take() // '['
	if err := d.enter(); err != nil {
		return err
	}

	d.skipSpace()
	if !d.r.Done() && d.r.Peek() == ']' {
		d.r.Take()
		d.depth--
		return nil
	}

	for {
		if err := d.value(); err != nil {
			return err
		}

		d.skipSpace()
		if d.r.Done() {
			return d.unexpected("',' or ']'")
		}
		switch d.r.Peek() {
		case ',':
			d.r.Take()
			d.skipSpace()
		case ']':
			d.r.Take()
			d.depth--
			return nil
		default:
			return d.unexpected("',' or ']'")
		}
	}
}

func (d *decodeState) quoted() error {
	d.r.Take() // '"'
	for {
		if d.r.Done() {
			return d.unexpected("closing '\"'")
		}
		c := d.r.Peek()
		switch {
		case c == '"':
			d.r.Take()
			return nil
		case c == '\\':
			d.r.Take()
			if err := d.escape(); err != nil {
				return err
			}
		case c < 0x20:
			return malformedAt(d.r.Tell(), fmt.Sprintf("control character %#02x in string", c))
		default:
			d.r.Take()
		}
	}
}

func (d *decodeState) escape() error {
	if d.r.Done() {
		return d.unexpected("escape character")
	}
	switch d.r.Peek() {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		d.r.Take()
		return nil
	case 'u':
		d.r.Take()
		for range 4 {
			if d.r.Done() || !isHex(d.r.Peek()) {
				return d.unexpected("hex digit in \\u escape")
			}
			d.r.Take()
		}
		return nil
	default:
		return d.unexpected("escape character")
	}
}

func isHex(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func (d *decodeState) literal(word string) error {
	for i := 0; i < len(word); i++ {
		if d.r.Done() || d.r.Peek() != word[i] {
			return d.unexpected(fmt.Sprintf("%q", word))
		}
		d.r.Take()
	}
	return nil
}

// number accepts -?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)? and stops at
// the first byte that cannot extend it. A number that runs to the end of the
// data is returned as complete; the scanner decides whether it was terminated.
func (d *decodeState) number() error {
	if d.r.Peek() == '-' {
		d.r.Take()
	}

	if d.r.Done() || !isDigit(d.r.Peek()) {
		return d.unexpected("digit")
	}
	if d.r.Take() != '0' {
		d.digits()
	}

	if !d.r.Done() && d.r.Peek() == '.' {
		d.r.Take()
		if d.r.Done() || !isDigit(d.r.Peek()) {
			return d.unexpected("digit after decimal point")
		}
		d.digits()
	}

	if !d.r.Done() && (d.r.Peek() == 'e' || d.r.Peek() == 'E') {
		d.r.Take()
		if !d.r.Done() && (d.r.Peek() == '+' || d.r.Peek() == '-') {
			d.r.Take()
		}
		if d.r.Done() || !isDigit(d.r.Peek()) {
			return d.unexpected("digit in exponent")
		}
		d.digits()
	}
	return nil
}

func (d *decodeState) digits() {
	for !d.r.Done() && isDigit(d.r.Peek()) {
		d.r.Take()
	}
}
