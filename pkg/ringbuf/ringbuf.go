// Package ringbuf is the fixed-size byte ring a relay reads client data into.
//
// Bytes move through three stages: buffered (read from the network), released
// (judged forwardable by a record filter) and flushed (written upstream and
// discarded). The ring never grows; a record that does not fit is the
// caller's problem.
//
// A Buffer is not safe for concurrent use.
package ringbuf

import (
	"errors"
	"io"
)

// ErrFull is returned when the ring has no free space left.
var ErrFull = errors.New("ringbuf: buffer full")

// Buffer is a byte ring with a release cursor.
type Buffer struct {
	buf  []byte
	head int // index of the oldest buffered byte
	data int // buffered bytes
	next int // buffered bytes released for forwarding
}

// New allocates a ring of size bytes.
func New(size int) *Buffer {
	if size <= 0 {
		panic("ringbuf: size must be positive")
	}
	return &Buffer{buf: make([]byte, size)}
}

// Bytes returns the whole ring, including free space.
func (b *Buffer) Bytes() []byte { return b.buf }

// Head is the ring index of the oldest buffered byte.
func (b *Buffer) Head() int { return b.head }

// Len is the number of buffered bytes.
func (b *Buffer) Len() int { return b.data }

// Released is the number of buffered bytes released for forwarding.
func (b *Buffer) Released() int { return b.next }

// Pending is the number of buffered bytes not yet released.
func (b *Buffer) Pending() int { return b.data - b.next }

// Cap is the ring size.
func (b *Buffer) Cap() int { return len(b.buf) }

// Free is the number of bytes that can still be buffered.
func (b *Buffer) Free() int { return len(b.buf) - b.data }

func (b *Buffer) tail() int {
	return (b.head + b.data) % len(b.buf)
}

// Write copies p into the ring. If p does not fit, as much as fits is copied
// and ErrFull is returned.
func (b *Buffer) Write(p []byte) (int, error) {
	var n int
	for len(p) > 0 && b.Free() > 0 {
		t := b.tail()
		end := len(b.buf)
		if t < b.head {
			end = b.head
		}
		c := copy(b.buf[t:end], p)
		b.data += c
		n += c
		p = p[c:]
	}
	if len(p) > 0 {
		return n, ErrFull
	}
	return n, nil
}

// ReadFrom performs a single Read from r into the free space of the ring. It
// reads into at most one contiguous run, so a later call may be needed to fill
// the space before the head.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	if b.Free() == 0 {
		return 0, ErrFull
	}
	t := b.tail()
	end := len(b.buf)
	if t < b.head || (t == b.head && b.data > 0) {
		end = b.head
	}
	n, err := r.Read(b.buf[t:end])
	b.data += n
	return int64(n), err
}

// Release marks the next n pending bytes as forwardable. It is clamped to
// the pending count.
func (b *Buffer) Release(n int) {
	if n < 0 {
		return
	}
	b.next += min(n, b.Pending())
}

// Discard drops the n oldest buffered bytes, released or not.
func (b *Buffer) Discard(n int) {
	n = min(max(n, 0), b.data)
	b.head = (b.head + n) % len(b.buf)
	b.data -= n
	b.next = max(b.next-n, 0)
	if b.data == 0 {
		b.head = 0
	}
}

// Reset empties the ring.
func (b *Buffer) Reset() {
	b.head, b.data, b.next = 0, 0, 0
}

// released returns the released bytes as up to two slices of the ring.
func (b *Buffer) released() ([]byte, []byte) {
	if b.next == 0 {
		return nil, nil
	}
	end := b.head + b.next
	if end <= len(b.buf) {
		return b.buf[b.head:end], nil
	}
	return b.buf[b.head:], b.buf[:end-len(b.buf)]
}

// WriteTo writes the released bytes to w and discards what was written.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	first, second := b.released()
	for _, p := range [][]byte{first, second} {
		if len(p) == 0 {
			continue
		}
		n, err := w.Write(p)
		total += int64(n)
		b.Discard(n)
		if err != nil {
			return total, err
		}
		if n < len(p) {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
