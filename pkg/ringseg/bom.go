package ringseg

// BOMReader skips a leading UTF-8 byte order mark and otherwise passes reads
// straight through. It does no transcoding.
type BOMReader struct {
	s *CursorStream
}

var _ ByteStream = (*BOMReader)(nil)

// NewBOMReader consumes up to three bytes of EF BB BF from the front of s.
// Each byte is only consumed if the ones before it matched.
func NewBOMReader(s *CursorStream) *BOMReader {
	if !s.Done() && s.Peek() == 0xEF {
		s.Take()
		if !s.Done() && s.Peek() == 0xBB {
			s.Take()
			if !s.Done() && s.Peek() == 0xBF {
				s.Take()
			}
		}
	}
	return &BOMReader{s: s}
}

func (r *BOMReader) Peek() byte { return r.s.Peek() }
func (r *BOMReader) Take() byte { return r.s.Take() }
func (r *BOMReader) Tell() int  { return r.s.Tell() }
func (r *BOMReader) Done() bool { return r.s.Done() }

// Stream returns the underlying cursor stream.
func (r *BOMReader) Stream() *CursorStream { return r.s }
