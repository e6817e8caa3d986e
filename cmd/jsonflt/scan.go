package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	json "github.com/goccy/go-json"

	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
	"github.com/epithet-ssh/jsonflt/pkg/relay"
	"github.com/epithet-ssh/jsonflt/pkg/ringbuf"
)

// ScanCLI replays files through a ring buffer the way the proxy sees a
// client, reading --chunk bytes at a time.
type ScanCLI struct {
	Files      []string `arg:"" help:"Files to scan; - reads stdin." placeholder:"FILE"`
	Strategy   string   `help:"Boundary strategy." enum:"json,noop,newline,newlinesimd" default:"json"`
	BufferSize int      `help:"Ring buffer size." default:"65536" name:"buffer-size"`
	Chunk      int      `help:"Bytes per simulated network read." default:"4096"`
	MaxDepth   int      `help:"Maximum JSON nesting depth." default:"512" name:"max-depth"`
	Output     string   `help:"Write forwarded bytes to this file." short:"o" type:"path"`
	JSON       bool     `help:"Print the report as JSON." name:"json"`
}

// ScanReport summarises one scanned file.
type ScanReport struct {
	File           string  `json:"file"`
	BytesRead      int64   `json:"bytes_read"`
	BytesForwarded int64   `json:"bytes_forwarded"`
	BytesDropped   int     `json:"bytes_dropped"`
	RecordsParsed  int64   `json:"records_parsed"`
	RecordsFailed  int64   `json:"records_failed"`
	Calls          int64   `json:"calls"`
	Duration       string  `json:"duration"`
	MBPerSecond    float64 `json:"mb_per_second"`
	Error          string  `json:"error,omitempty"`
}

func (c *ScanCLI) Run(ctx *kong.Context, logger *slog.Logger) error {
	if c.Chunk < 1 {
		return fmt.Errorf("--chunk must be positive, got %d", c.Chunk)
	}
	if c.BufferSize < 2 {
		return fmt.Errorf("--buffer-size must be at least 2, got %d", c.BufferSize)
	}
	strategy, err := recordfilter.ParseStrategy(c.Strategy)
	if err != nil {
		return err
	}

	out := io.Discard
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	var reports []ScanReport
	for _, name := range c.Files {
		// A fresh filter per file keeps the counters per file.
		filter, err := recordfilter.New(strategy,
			recordfilter.WithName("scan"),
			recordfilter.WithProxyID(name),
			recordfilter.WithMaxDepth(c.MaxDepth),
			recordfilter.WithLogger(logger))
		if err != nil {
			return err
		}

		rep, err := c.scanFile(name, out, filter)
		if err != nil && !errors.Is(err, relay.ErrRecordTooLarge) {
			return err
		}
		reports = append(reports, rep)
	}

	if c.JSON {
		enc := json.NewEncoder(ctx.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	return printReports(ctx.Stdout, reports)
}

func (c *ScanCLI) scanFile(name string, out io.Writer, filter *recordfilter.Filter) (ScanReport, error) {
	in := io.Reader(os.Stdin)
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return ScanReport{}, err
		}
		defer f.Close()
		in = f
	}

	start := time.Now()
	rep, err := scanStream(in, out, filter, c.BufferSize, c.Chunk)
	elapsed := time.Since(start)

	rep.File = name
	rep.Duration = elapsed.String()
	if secs := elapsed.Seconds(); secs > 0 {
		rep.MBPerSecond = float64(rep.BytesRead) / secs / (1 << 20)
	}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep, err
}

// scanStream feeds r through a ring of size bytes, chunk bytes per read, and
// writes every released byte to w. Bytes still pending at EOF are dropped.
func scanStream(r io.Reader, w io.Writer, filter *recordfilter.Filter, size, chunk int) (ScanReport, error) {
	var rep ScanReport
	buf := ringbuf.New(size)
	lr := &io.LimitedReader{R: r}

	for {
		lr.N = int64(chunk)
		n, rerr := buf.ReadFrom(lr)
		rep.BytesRead += n

		if n > 0 {
			res, err := filter.Analyze(buf.Bytes(), buf.Head(), buf.Len(), buf.Released())
			if err != nil {
				return rep, err
			}
			buf.Release(res.Consumed)
			written, err := buf.WriteTo(w)
			rep.BytesForwarded += written
			if err != nil {
				return rep, err
			}
			if res.MoreData() && buf.Free() == 0 {
				rep.BytesDropped = buf.Len()
				fillCounters(&rep, filter)
				return rep, fmt.Errorf("%w (%d bytes buffered)", relay.ErrRecordTooLarge, buf.Len())
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return rep, rerr
		}
	}

	rep.BytesDropped = buf.Pending()
	fillCounters(&rep, filter)
	return rep, nil
}

func fillCounters(rep *ScanReport, filter *recordfilter.Filter) {
	snap := filter.Stats().Snapshot()
	rep.RecordsParsed = snap.RecordsParsed
	rep.RecordsFailed = snap.RecordsFailed
	rep.Calls = snap.Calls
}

func printReports(w io.Writer, reports []ScanReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tREAD\tFORWARDED\tDROPPED\tPARSED\tFAILED\tMB/S\tERROR")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%s\n",
			r.File, r.BytesRead, r.BytesForwarded, r.BytesDropped,
			r.RecordsParsed, r.RecordsFailed, r.MBPerSecond, r.Error)
	}
	return tw.Flush()
}
