package ringseg

// ByteStream is the pull interface the record parser reads from.
type ByteStream interface {
	// Peek returns the next byte without consuming it, or 0 once Done.
	Peek() byte
	// Take consumes and returns the next byte, or returns 0 once Done.
	Take() byte
	// Tell is the number of bytes taken so far.
	Tell() int
	// Done reports whether every byte has been taken.
	Done() bool
}

// CursorStream reads a Segment front to back, wrapping from the end of the
// buffer to its start. It never copies the segment.
type CursorStream struct {
	buf   []byte
	pos   int // absolute index of the next byte
	size  int // bytes readable when the stream was built
	count int // bytes taken
}

var _ ByteStream = (*CursorStream)(nil)

// NewCursorStream starts a stream at the segment's cursor.
func NewCursorStream(seg Segment) *CursorStream {
	return &CursorStream{
		buf:  seg.buf,
		pos:  seg.cursor,
		size: seg.Len(),
	}
}

// Peek returns the next unread byte, or 0 once the segment is exhausted.
func (s *CursorStream) Peek() byte {
	if s.count == s.size {
		return 0
	}
	return s.buf[s.pos]
}

// Take returns the next byte and advances. Advancing onto the end of the
// buffer while bytes remain moves the cursor back to index 0. Once the segment
// is exhausted Take returns 0 and changes nothing.
func (s *CursorStream) Take() byte {
	if s.count == s.size {
		return 0
	}
	b := s.buf[s.pos]
	s.pos++
	s.count++
	if s.pos == len(s.buf) && s.count != s.size {
		s.pos = 0
	}
	return b
}

// Tell is the number of bytes taken.
func (s *CursorStream) Tell() int { return s.count }

// Done reports whether the segment is exhausted.
func (s *CursorStream) Done() bool { return s.count == s.size }

// Remaining is the number of bytes not yet taken.
func (s *CursorStream) Remaining() int { return s.size - s.count }

// Pos is the absolute buffer index of the next byte. Once exhausted it is the
// segment's limit, or len(buf) when the data ended exactly at the buffer end.
func (s *CursorStream) Pos() int { return s.pos }

// Peek4 returns the next four bytes for encoding detection. It fails closed:
// when fewer than four bytes remain, or the four would straddle the wrap
// point, it returns nil and false rather than reading across the seam.
func (s *CursorStream) Peek4() ([]byte, bool) {
	if s.size-s.count < 4 || s.pos+4 > len(s.buf) {
		return nil, false
	}
	return s.buf[s.pos : s.pos+4 : s.pos+4], true
}
