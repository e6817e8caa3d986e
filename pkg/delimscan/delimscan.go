// Package delimscan finds record boundaries by locating a delimiter byte,
// without looking at what the records contain.
//
// Both scanners release every record up to the last delimiter found in one
// call. Bytewise checks one byte at a time; Block hands whole runs to
// bytes.IndexByte, which uses vector instructions where the platform has them.
// They return identical results for identical input.
package delimscan

import (
	"bytes"

	"github.com/epithet-ssh/jsonflt/pkg/ringseg"
)

// Newline is the record delimiter used on the wire.
const Newline = '\n'

// Result reports how much of a segment ends in a delimiter.
type Result struct {
	Consumed int // bytes up to and including the last delimiter
	Records  int // delimiters found
}

// Bytewise compares every byte of the segment against delim.
func Bytewise(seg ringseg.Segment, delim byte) Result {
	var res Result

	contig := seg.Contig()
	for i := 0; i < len(contig); i++ {
		if contig[i] == delim {
			res.Consumed = i + 1
			res.Records++
		}
	}

	// The wrapped part continues the offsets of the contiguous run.
	rem := seg.Remainder()
	for i := 0; i < len(rem); i++ {
		if rem[i] == delim {
			res.Consumed = len(contig) + i + 1
			res.Records++
		}
	}

	return res
}

// Block walks the segment with bytes.IndexByte, stepping past each delimiter.
func Block(seg ringseg.Segment, delim byte) Result {
	var res Result

	run := seg.Contig()
	for len(run) > 0 {
		i := bytes.IndexByte(run, delim)
		if i < 0 {
			break
		}
		res.Consumed += i + 1
		res.Records++
		run = run[i+1:]
	}

	// Bytes between the last delimiter and the seam belong to the first
	// record found after the wrap; add them exactly once.
	carry := len(run)

	run = seg.Remainder()
	for len(run) > 0 {
		i := bytes.IndexByte(run, delim)
		if i < 0 {
			break
		}
		res.Consumed += i + 1 + carry
		carry = 0
		res.Records++
		run = run[i+1:]
	}

	return res
}
