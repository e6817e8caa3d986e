package ringseg

import "fmt"

// State tells whether a segment's bytes sit in one run or two.
type State uint8

const (
	// Contiguous segments hold their bytes in [cursor, limit).
	Contiguous State = iota
	// Wrapped segments hold their bytes in [cursor, len(buf)) then [0, limit).
	Wrapped
)

func (s State) String() string {
	switch s {
	case Contiguous:
		return "contiguous"
	case Wrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Segment is a view over the unread bytes of a ring buffer.
type Segment struct {
	buf    []byte
	cursor int
	limit  int
	state  State
}

// New builds a segment from a cursor and an exclusive limit. A limit before
// the cursor means the data wraps past the end of buf. cursor == limit is an
// empty segment; use FromSpan to describe a completely full ring.
func New(buf []byte, cursor, limit int) (Segment, error) {
	if err := checkIndex(buf, cursor, "cursor"); err != nil {
		return Segment{}, err
	}
	if err := checkIndex(buf, limit, "limit"); err != nil {
		return Segment{}, err
	}
	state := stateOf(cursor, limit, false)
	if state == Wrapped && cursor == len(buf) {
		// Nothing left before the end; the data is really [0, limit).
		cursor = 0
		state = Contiguous
	}
	return Segment{buf: buf, cursor: cursor, limit: limit, state: state}, nil
}

// FromSpan builds a segment holding n bytes that start at index start.
// n may be as large as len(buf).
func FromSpan(buf []byte, start, n int) (Segment, error) {
	if len(buf) == 0 {
		if start == 0 && n == 0 {
			return Segment{buf: buf}, nil
		}
		return Segment{}, &BoundsError{Field: "start", Index: start, Size: 0}
	}
	if start < 0 || start >= len(buf) {
		return Segment{}, &BoundsError{Field: "start", Index: start, Size: len(buf)}
	}
	if n < 0 || n > len(buf) {
		return Segment{}, &BoundsError{Field: "length", Index: n, Size: len(buf)}
	}
	end := start + n
	if end <= len(buf) {
		return Segment{buf: buf, cursor: start, limit: end, state: Contiguous}, nil
	}
	return Segment{buf: buf, cursor: start, limit: end - len(buf), state: stateOf(start, end-len(buf), true)}, nil
}

// stateOf is the single place where a cursor/limit pair is classified.
// full marks a ring whose data occupies the whole allocation, where
// cursor == limit would otherwise read as empty.
func stateOf(cursor, limit int, full bool) State {
	if cursor > limit || (full && cursor == limit) {
		return Wrapped
	}
	return Contiguous
}

func checkIndex(buf []byte, i int, field string) error {
	if i < 0 || i > len(buf) {
		return &BoundsError{Field: field, Index: i, Size: len(buf)}
	}
	return nil
}

// State reports whether the segment wraps.
func (s Segment) State() State { return s.state }

// Cursor is the index of the first unread byte.
func (s Segment) Cursor() int { return s.cursor }

// Limit is the exclusive end of valid data.
func (s Segment) Limit() int { return s.limit }

// BufferEnd is len of the backing allocation, the point where reads wrap.
func (s Segment) BufferEnd() int { return len(s.buf) }

// Len is the number of readable bytes.
func (s Segment) Len() int {
	if s.state == Wrapped {
		return (len(s.buf) - s.cursor) + s.limit
	}
	return s.limit - s.cursor
}

// Contig returns the run of bytes starting at the cursor that does not cross
// the end of the allocation.
func (s Segment) Contig() []byte {
	if s.state == Wrapped {
		return s.buf[s.cursor:]
	}
	return s.buf[s.cursor:s.limit]
}

// Remainder returns the bytes that follow the wrap point, or nil when the
// segment is contiguous.
func (s Segment) Remainder() []byte {
	if s.state == Wrapped {
		return s.buf[:s.limit]
	}
	return nil
}

// ByteAt returns the byte stored at absolute index i of the backing buffer.
func (s Segment) ByteAt(i int) byte { return s.buf[i] }

// At returns the segment that starts at index pos and shares this segment's
// limit. pos must lie within the readable bytes or equal the limit.
func (s Segment) At(pos int) (Segment, error) {
	off, ok := s.Offset(pos)
	if !ok {
		return Segment{}, &BoundsError{Field: "cursor", Index: pos, Size: len(s.buf)}
	}
	return s.Advance(off), nil
}

// Advance returns the segment with its cursor moved forward n bytes. n is
// clamped to Len.
func (s Segment) Advance(n int) Segment {
	remaining := s.Len()
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return s
	}
	if n == remaining {
		return Segment{buf: s.buf, cursor: s.limit, limit: s.limit, state: Contiguous}
	}
	pos := s.cursor + n
	if s.state == Wrapped && pos >= len(s.buf) {
		return Segment{buf: s.buf, cursor: pos - len(s.buf), limit: s.limit, state: Contiguous}
	}
	return Segment{buf: s.buf, cursor: pos, limit: s.limit, state: s.state}
}

// Offset converts absolute index pos into a distance from the cursor. It
// reports false when pos is not a readable position of this segment. The
// limit itself is accepted and maps to Len.
func (s Segment) Offset(pos int) (int, bool) {
	if pos == s.limit {
		return s.Len(), true
	}
	if s.state == Wrapped {
		switch {
		case pos >= s.cursor && pos < len(s.buf):
			return pos - s.cursor, true
		case pos >= 0 && pos < s.limit:
			return (len(s.buf) - s.cursor) + pos, true
		}
		return 0, false
	}
	if pos >= s.cursor && pos < s.limit {
		return pos - s.cursor, true
	}
	return 0, false
}

// Distance is the number of bytes between start and final when walking forward
// through a buffer of size bufferEnd. A final index before start means the walk
// crossed the end of the allocation. Equal indexes are ambiguous by address
// alone; taken breaks the tie and is the byte count a stream reported.
func Distance(start, final, bufferEnd, taken int) int {
	switch {
	case final < start:
		return (bufferEnd - start) + final
	case final == start && taken > 0:
		return bufferEnd
	default:
		return final - start
	}
}

func (s Segment) String() string {
	return fmt.Sprintf("segment{%s cursor=%d limit=%d end=%d len=%d}",
		s.state, s.cursor, s.limit, len(s.buf), s.Len())
}
