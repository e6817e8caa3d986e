package recordfilter

import "sync/atomic"

// Stats accumulates counters across calls and connections. It is safe for
// concurrent use.
type Stats struct {
	calls    atomic.Int64
	parsed   atomic.Int64
	failed   atomic.Int64
	consumed atomic.Int64
	streams  atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Calls          int64 `json:"calls"`
	RecordsParsed  int64 `json:"records_parsed"`
	RecordsFailed  int64 `json:"records_failed"`
	BytesForwarded int64 `json:"bytes_forwarded"`
	ActiveStreams  int64 `json:"active_streams"`
}

func (s *Stats) record(r Result) {
	s.calls.Add(1)
	s.parsed.Add(int64(r.Parsed))
	s.failed.Add(int64(r.Failed))
	s.consumed.Add(int64(r.Consumed))
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Calls:          s.calls.Load(),
		RecordsParsed:  s.parsed.Load(),
		RecordsFailed:  s.failed.Load(),
		BytesForwarded: s.consumed.Load(),
		ActiveStreams:  s.streams.Load(),
	}
}
