// Package ringseg provides read-only views over a region of a ring buffer.
//
// A ring buffer holds its valid bytes in a fixed allocation. Once the writer
// reaches the end of the allocation it continues at the start, so the bytes
// available to a reader are either one contiguous run or two runs: one from the
// read cursor to the end of the allocation, and one from the start of the
// allocation up to the limit.
//
// # Layout
//
// A Segment is described by four positions, all expressed as indexes into the
// backing slice:
//
//	origin     always 0
//	cursor     first unread byte
//	limit      exclusive end of valid data
//	buffer end always len(buf)
//
// Contiguous:
//
//	origin <= cursor <= limit <= buffer end
//	[.......cursor#########limit.......]
//
// Wrapped:
//
//	origin <= limit < cursor <= buffer end   (or limit == cursor for a full ring)
//	[####limit...............cursor####]
//
// The state is computed once, by stateOf, and carried on the Segment. Callers
// never infer it from index comparisons of their own.
//
// # Reading
//
// CursorStream pulls bytes out of a Segment one at a time, stepping across the
// wrap point without copying anything:
//
//	s := ringseg.NewCursorStream(seg)
//	for !s.Done() {
//		b := s.Take()
//		...
//	}
//
// Peek and Take return 0 once the segment is exhausted; Done distinguishes a
// real NUL byte from the end of the data. Tell counts bytes taken, which stays
// meaningful across the wrap where index differences do not.
//
// A Segment is only a view. It must not be retained after the call that built it
// returns, since the host may overwrite the memory as soon as it regains control.
package ringseg
