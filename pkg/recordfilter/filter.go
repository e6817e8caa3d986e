// Package recordfilter tells a proxy how many buffered bytes end on a record
// boundary and may be forwarded.
//
// A Filter is built once per listener with a fixed Strategy. The host calls
// Analyze with its ring buffer every time new bytes arrive; the result says
// how many bytes to release and whether the remainder still waits for more
// input.
package recordfilter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/epithet-ssh/jsonflt/pkg/delimscan"
	"github.com/epithet-ssh/jsonflt/pkg/jsonrec"
	"github.com/epithet-ssh/jsonflt/pkg/ringseg"
)

// Result is the outcome of one Analyze call.
type Result struct {
	Consumed int   // bytes that end on a record boundary
	Parsed   int   // records released
	Failed   int   // records that could not be validated
	Avail    int   // bytes examined
	Err      error // last parse failure, if any
}

// MoreData reports whether part of the examined bytes was held back and the
// host should call again once more input arrives.
func (r Result) MoreData() bool {
	return r.Consumed != r.Avail
}

// Filter detects record boundaries using one Strategy.
type Filter struct {
	strategy Strategy
	name     string
	scanner  *jsonrec.Scanner
	stats    *Stats
	log      *slog.Logger
}

// New creates a Filter. The strategy is fixed for the lifetime of the Filter.
func New(strategy Strategy, opts ...Option) (*Filter, error) {
	if strategy > NewlineSIMD {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}

	cfg := &config{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.stats == nil {
		cfg.stats = &Stats{}
	}

	f := &Filter{
		strategy: strategy,
		name:     instanceName(cfg.name, cfg.proxyID),
		stats:    cfg.stats,
	}
	f.log = cfg.logger.With("filter", f.name)

	if strategy == JSON {
		var scanOpts []jsonrec.Option
		if cfg.maxDepth > 0 {
			scanOpts = append(scanOpts, jsonrec.MaxDepth(cfg.maxDepth))
		}
		scanOpts = append(scanOpts, jsonrec.WithLogger(f.log))
		f.scanner = jsonrec.NewScanner(scanOpts...)
	}

	f.log.Info("filter initialized", "strategy", strategy.Description())
	return f, nil
}

func instanceName(name, proxy string) string {
	if name == "" {
		name = "TRACE"
	}
	if proxy == "" {
		return name
	}
	return name + "/" + proxy
}

// Name returns the instance name used in log lines.
func (f *Filter) Name() string { return f.name }

// Strategy returns the strategy the Filter was built with.
func (f *Filter) Strategy() Strategy { return f.strategy }

// Stats returns the counters this Filter updates.
func (f *Filter) Stats() *Stats { return f.stats }

// Attach registers a new stream with the filter.
func (f *Filter) Attach(stream string) {
	f.stats.streams.Add(1)
	f.log.Debug("filter attached", "stream", stream)
}

// Detach unregisters a stream and logs the cumulative counters.
func (f *Filter) Detach(stream string) {
	f.stats.streams.Add(-1)
	snap := f.stats.Snapshot()
	f.log.Info("filter detached",
		"stream", stream,
		"records_parsed", snap.RecordsParsed,
		"records_failed", snap.RecordsFailed)
}

// Scan finds the record boundary in seg according to the filter's strategy.
func (f *Filter) Scan(seg ringseg.Segment) Result {
	res := Result{Avail: seg.Len()}

	switch f.strategy {
	case Noop:
		res.Consumed = res.Avail
	case Newline:
		d := delimscan.Bytewise(seg, delimscan.Newline)
		res.Consumed, res.Parsed = d.Consumed, d.Records
	case NewlineSIMD:
		d := delimscan.Block(seg, delimscan.Newline)
		res.Consumed, res.Parsed = d.Consumed, d.Records
	default:
		r := f.scanner.Scan(seg)
		res.Consumed, res.Parsed, res.Failed, res.Err = r.Consumed, r.Parsed, r.Failed, r.Err
	}

	f.stats.record(res)
	if f.log.Enabled(context.Background(), slog.LevelDebug) {
		f.log.Debug("filter outcome",
			"avail", res.Avail,
			"consumed", res.Consumed,
			"records_parsed", res.Parsed,
			"records_failed", res.Failed,
			"more_data", res.MoreData())
	}
	return res
}

// Analyze examines the bytes a host holds in its ring buffer. buf is the whole
// ring, head the index of the oldest buffered byte, data the number of bytes
// buffered, and next the number of those already released by earlier calls.
// Only the data-next bytes after them are examined.
func (f *Filter) Analyze(buf []byte, head, data, next int) (Result, error) {
	if len(buf) == 0 {
		return Result{}, nil
	}
	if head < 0 || head >= len(buf) {
		return Result{}, &ringseg.BoundsError{Field: "head", Index: head, Size: len(buf)}
	}
	if data < 0 || data > len(buf) {
		return Result{}, &ringseg.BoundsError{Field: "data", Index: data, Size: len(buf)}
	}
	if next < 0 || next > data {
		return Result{}, &ringseg.BoundsError{Field: "next", Index: next, Size: data}
	}

	seg, err := ringseg.FromSpan(buf, (head+next)%len(buf), data-next)
	if err != nil {
		return Result{}, err
	}
	return f.Scan(seg), nil
}
