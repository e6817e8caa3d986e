package jsonrec

import (
	"context"
	"errors"
	"log/slog"

	"github.com/epithet-ssh/jsonflt/pkg/ringseg"
)

// Result reports how much of a segment holds complete records.
type Result struct {
	// Consumed is the number of leading bytes that form whole records and may
	// be forwarded. 0 <= Consumed <= available.
	Consumed int
	// Parsed counts records found in this call.
	Parsed int
	// Failed is 1 when the scan stopped on a record it could not parse.
	Failed int
	// Err is the error that stopped the scan, if any. It wraps ErrIncomplete or
	// ErrMalformed.
	Err error
}

// Scanner finds the boundary of the last complete record in a segment by
// parsing one JSON value at a time.
type Scanner struct {
	parser *Parser
	log    *slog.Logger
}

// NewScanner creates a record scanner.
func NewScanner(opts ...Option) *Scanner {
	cfg := newConfig(opts)
	return &Scanner{
		parser: &Parser{maxDepth: cfg.maxDepth},
		log:    cfg.logger,
	}
}

// Scan walks seg record by record. Each record is a JSON value followed by
// optional spaces, tabs or carriage returns and one newline. A value followed
// directly by the start of another value also ends a record.
//
// Scanning stops at the first record that does not parse. Its bytes are left
// unconsumed so that a later call, with more data, can try again. Whitespace
// that trails the last record is consumed.
func (s *Scanner) Scan(seg ringseg.Segment) Result {
	var res Result
	trace := s.log.Enabled(context.Background(), LevelTrace)

	for seg.Len() > 0 {
		start := seg.Cursor()
		out := s.parser.ParseOne(seg)

		if errors.Is(out.Err, ErrEmpty) {
			res.Consumed += out.Read
			break
		}
		if out.Status != Success {
			res.Failed++
			res.Err = out.Err
			if trace {
				s.log.Log(context.Background(), LevelTrace, "record parse failed",
					"offset", res.Consumed, "error", out.Err)
			}
			break
		}

		rest := seg.Advance(out.Read)
		n, ok := terminate(rest)
		if !ok {
			// The value runs up to the end of the data. Without a delimiter
			// it may still grow (a number) or be followed by more bytes of
			// this record, so it is not complete yet.
			res.Failed++
			res.Err = &SyntaxError{Offset: out.Read + n, Reason: "record not terminated", err: ErrIncomplete}
			if trace {
				s.log.Log(context.Background(), LevelTrace, "record not terminated",
					"offset", res.Consumed)
			}
			break
		}

		next := rest.Advance(n)
		delta := ringseg.Distance(start, next.Cursor(), seg.BufferEnd(), out.Read+n)
		res.Consumed += delta
		res.Parsed++
		if trace {
			s.log.Log(context.Background(), LevelTrace, "record parsed",
				"offset", res.Consumed-delta, "delta", delta, "wrapped", next.Cursor() < start)
		}
		seg = next
	}

	return res
}

// terminate measures the delimiter that ends a record at the front of seg:
// spaces, tabs and carriage returns, then one newline which belongs to the
// record. It reports false when the data ends first.
func terminate(seg ringseg.Segment) (int, bool) {
	s := ringseg.NewCursorStream(seg)
	for !s.Done() {
		switch s.Peek() {
		case ' ', '\t', '\r':
			s.Take()
		case Delimiter:
			s.Take()
			return s.Tell(), true
		default:
			return s.Tell(), true
		}
	}
	return s.Tell(), false
}
