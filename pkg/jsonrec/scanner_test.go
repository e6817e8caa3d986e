package jsonrec

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"testing/quick"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epithet-ssh/jsonflt/pkg/ringseg"
)

func TestScan_TwoRecords(t *testing.T) {
	in := `{"a":1}` + "\n" + `{"b":2}` + "\n"
	res := NewScanner().Scan(contiguous(t, in))

	require.Equal(t, 16, res.Consumed)
	require.Equal(t, 2, res.Parsed)
	require.Equal(t, 0, res.Failed)
	require.NoError(t, res.Err)
}

func TestScan_TruncatedSecondRecord(t *testing.T) {
	in := `{"a":1}` + "\n" + `{"b":`
	res := NewScanner().Scan(contiguous(t, in))

	require.Equal(t, 8, res.Consumed)
	require.Equal(t, 1, res.Parsed)
	require.Equal(t, 1, res.Failed)
	require.ErrorIs(t, res.Err, ErrIncomplete)
}

func TestScan_WrappedMatchesContiguous(t *testing.T) {
	in := `{"a":1}` + "\n" + `{"long":"record","n":[1,2,3]}` + "\n" + `{"c":`
	want := NewScanner().Scan(contiguous(t, in))
	require.Equal(t, 2, want.Parsed)

	s := NewScanner()
	for at := 0; at < len(in)+3; at++ {
		got := s.Scan(wrapped(t, in, at, 3))
		require.Equal(t, want.Consumed, got.Consumed, "start %d", at)
		require.Equal(t, want.Parsed, got.Parsed, "start %d", at)
		require.Equal(t, want.Failed, got.Failed, "start %d", at)
	}
}

func TestScan_RecordCrossesSeam(t *testing.T) {
	// Layout: `":1}\n` at the front, `{"a` at the back.
	buf := []byte(`":1}` + "\n" + `....{"a`)
	seg, err := ringseg.New(buf, 9, 5)
	require.NoError(t, err)
	require.Equal(t, ringseg.Wrapped, seg.State())

	res := NewScanner().Scan(seg)
	require.Equal(t, 8, res.Consumed)
	require.Equal(t, 1, res.Parsed)
}

func TestScan_EmptySegment(t *testing.T) {
	seg, err := ringseg.New([]byte(`{"a":1}`+"\n"), 8, 8)
	require.NoError(t, err)

	res := NewScanner().Scan(seg)
	require.Equal(t, Result{}, res)
}

func TestScan_IdempotentWithoutNewBytes(t *testing.T) {
	buf := []byte(`{"a":1}` + "\n" + `{"b":2}` + "\n")
	s := NewScanner()

	seg, err := ringseg.FromSpan(buf, 0, len(buf))
	require.NoError(t, err)
	first := s.Scan(seg)
	require.Equal(t, len(buf), first.Consumed)

	again := s.Scan(seg.Advance(first.Consumed))
	require.Equal(t, 0, again.Consumed)
	require.Equal(t, 0, again.Parsed)
}

// The delimiter of the final record is the last available byte. It belongs to
// that record and is counted exactly once.
func TestScan_FinalDelimiterIsLastByte(t *testing.T) {
	tests := []struct {
		name string
		seg  func(t *testing.T) ringseg.Segment
		want int
	}{
		{"contiguous", func(t *testing.T) ringseg.Segment { return contiguous(t, "[1]\n") }, 4},
		{"at buffer end", func(t *testing.T) ringseg.Segment {
			seg, err := ringseg.New([]byte("..[1]\n"), 2, 6)
			require.NoError(t, err)
			return seg
		}, 4},
		{"delimiter alone after wrap", func(t *testing.T) ringseg.Segment {
			seg, err := ringseg.New([]byte("\n..[1]"), 3, 1)
			require.NoError(t, err)
			return seg
		}, 4},
		{"full ring", func(t *testing.T) ringseg.Segment {
			seg, err := ringseg.FromSpan([]byte("]\n[1"), 2, 4)
			require.NoError(t, err)
			return seg
		}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := tt.seg(t)
			res := NewScanner().Scan(seg)
			require.Equal(t, tt.want, res.Consumed)
			require.Equal(t, 1, res.Parsed)
			require.LessOrEqual(t, res.Consumed, seg.Len())
		})
	}
}

func TestScan_ValueEndsAtLimit(t *testing.T) {
	tests := []struct {
		in       string
		consumed int
		parsed   int
	}{
		{`{"a":1}`, 0, 0},
		{`{"a":1}` + "\n" + `12`, 8, 1},
		{`{"a":1}` + "\n" + `{"b":2} `, 8, 1},
		{`true`, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res := NewScanner().Scan(contiguous(t, tt.in))
			require.Equal(t, tt.consumed, res.Consumed)
			require.Equal(t, tt.parsed, res.Parsed)
			require.Equal(t, 1, res.Failed)
			require.ErrorIs(t, res.Err, ErrIncomplete)
		})
	}
}

func TestScan_Separators(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		consumed int
		parsed   int
	}{
		{"crlf", "[1]\r\n[2]\r\n", 10, 2},
		{"trailing spaces", "[1]  \n[2]\t\n", 11, 2},
		{"concatenated", "[1][2]\n", 7, 2},
		{"blank lines", "[1]\n\n\n[2]\n", 10, 2},
		{"leading whitespace", "  \n[1]\n", 7, 1},
		{"whitespace tail", "[1]\n   ", 7, 1},
		{"only whitespace", " \n", 2, 0},
		{"byte order mark", "\xEF\xBB\xBF[1]\n", 7, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewScanner().Scan(contiguous(t, tt.in))
			require.Equal(t, tt.consumed, res.Consumed)
			require.Equal(t, tt.parsed, res.Parsed)
			require.Equal(t, 0, res.Failed)
			require.NoError(t, res.Err)
		})
	}
}

func TestScan_Malformed(t *testing.T) {
	in := "[1]\n{oops}\n[2]\n"
	res := NewScanner().Scan(contiguous(t, in))

	require.Equal(t, 4, res.Consumed)
	require.Equal(t, 1, res.Parsed)
	require.Equal(t, 1, res.Failed)
	require.ErrorIs(t, res.Err, ErrMalformed)
}

func TestScan_MaxDepth(t *testing.T) {
	in := "[[1]]\n" + strings.Repeat("[", 10) + strings.Repeat("]", 10) + "\n"
	res := NewScanner(MaxDepth(4)).Scan(contiguous(t, in))

	require.Equal(t, 6, res.Consumed)
	require.ErrorIs(t, res.Err, ErrMalformed)
}

func TestScan_TraceLogging(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{
		Level: LevelTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))

	NewScanner(WithLogger(logger)).Scan(contiguous(t, "[1]\n{"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `level=DEBUG-4 msg="record parsed" offset=0 delta=4 wrapped=false`, lines[0])
	assert.Contains(t, lines[1], `msg="record parse failed" offset=4`)
}

func TestScan_NoTraceAboveLevel(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewScanner(WithLogger(logger)).Scan(contiguous(t, "[1]\n"))
	require.Empty(t, out.String())
}

// Property: for any batch of records laid out at any rotation, the scanner
// consumes exactly the complete records and never more than is available.
func TestProperty_ConsumesWholeRecords(t *testing.T) {
	s := NewScanner()
	property := func(values []map[string]int, cut uint16, rot uint16) bool {
		var stream []byte
		var ends []int
		for _, v := range values {
			data, err := json.Marshal(v)
			if err != nil {
				return false
			}
			stream = append(stream, data...)
			stream = append(stream, '\n')
			ends = append(ends, len(stream))
		}
		if len(stream) == 0 {
			return true
		}

		avail := int(cut) % (len(stream) + 1)
		want := 0
		for _, e := range ends {
			if e <= avail {
				want = e
			}
		}

		size := len(stream) + 7
		buf := make([]byte, size)
		start := int(rot) % size
		for i := 0; i < avail; i++ {
			buf[(start+i)%size] = stream[i]
		}
		seg, err := ringseg.FromSpan(buf, start, avail)
		if err != nil {
			return false
		}

		res := s.Scan(seg)
		return res.Consumed == want && res.Consumed <= avail
	}

	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}
