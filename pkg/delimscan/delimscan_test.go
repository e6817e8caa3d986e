package delimscan

import (
	"bytes"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"

	"github.com/epithet-ssh/jsonflt/pkg/ringseg"
)

type scanFunc func(ringseg.Segment, byte) Result

var scanners = map[string]scanFunc{
	"bytewise": Bytewise,
	"block":    Block,
}

// ring places data in a buffer of size bytes starting at index start.
func ring(t *testing.T, data string, size, start int) ringseg.Segment {
	t.Helper()
	buf := bytes.Repeat([]byte{'#'}, size)
	for i := 0; i < len(data); i++ {
		buf[(start+i)%size] = data[i]
	}
	seg, err := ringseg.FromSpan(buf, start, len(data))
	require.NoError(t, err)
	return seg
}

func TestScan_Examples(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		size     int
		start    int
		consumed int
		records  int
	}{
		{"two lines", "abc\ndef\n", 8, 0, 8, 2},
		{"partial tail", "abc\ndef", 8, 0, 4, 1},
		{"no delimiter", "abcdef", 8, 0, 0, 0},
		{"empty", "", 8, 3, 0, 0},
		{"only delimiters", "\n\n\n", 8, 0, 3, 3},
		{"wrapped", "abc\ndef\n", 10, 6, 8, 2},
		{"delimiter last before seam", "abc\nxy", 8, 4, 4, 1},
		{"delimiter first after seam", "abcd\nxy\n", 8, 4, 8, 2},
		{"record spans seam", "ab\ncdefg\nz", 12, 5, 9, 2},
		{"partial spans seam", "ab\ncdefg", 10, 6, 3, 1},
		{"full ring", "ab\ncd\n", 6, 2, 6, 2},
	}

	for name, scan := range scanners {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				res := scan(ring(t, tt.data, tt.size, tt.start), Newline)
				require.Equal(t, tt.consumed, res.Consumed)
				require.Equal(t, tt.records, res.Records)
			})
		}
	}
}

func TestScan_OtherDelimiter(t *testing.T) {
	seg := ring(t, "a,b,c", 8, 6)
	require.Equal(t, Result{Consumed: 4, Records: 2}, Bytewise(seg, ','))
	require.Equal(t, Result{Consumed: 4, Records: 2}, Block(seg, ','))
}

// Property: both scanners agree for every input and every rotation,
// including delimiters that sit on either side of the seam.
func TestProperty_ScannersAgree(t *testing.T) {
	property := func(data []byte, extra uint8, rot uint16) bool {
		// Bias the input towards delimiters.
		for i := range data {
			if data[i]%5 == 0 {
				data[i] = Newline
			}
		}
		size := len(data) + int(extra)%8 + 1
		buf := make([]byte, size)
		start := int(rot) % size
		for i := range data {
			buf[(start+i)%size] = data[i]
		}
		seg, err := ringseg.FromSpan(buf, start, len(data))
		if err != nil {
			return false
		}

		a := Bytewise(seg, Newline)
		b := Block(seg, Newline)
		if a != b {
			t.Logf("data=%q start=%d size=%d bytewise=%+v block=%+v", data, start, size, a, b)
			return false
		}

		// Cross-check against a linear copy.
		want := bytes.LastIndexByte(data, Newline) + 1
		return a.Consumed == want && a.Records == bytes.Count(data, []byte{Newline})
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 2000}); err != nil {
		t.Error(err)
	}
}

func benchSegment(b *testing.B) ringseg.Segment {
	line := []byte(`{"ts":1700000000,"host":"web-01","level":"info","msg":"request served"}` + "\n")
	data := bytes.Repeat(line, 256)
	buf := make([]byte, len(data)+512)
	start := len(buf) - len(data)/3
	for i := range data {
		buf[(start+i)%len(buf)] = data[i]
	}
	seg, err := ringseg.FromSpan(buf, start, len(data))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	return seg
}

func BenchmarkBytewise(b *testing.B) {
	seg := benchSegment(b)
	for b.Loop() {
		Bytewise(seg, Newline)
	}
}

func BenchmarkBlock(b *testing.B) {
	seg := benchSegment(b)
	for b.Loop() {
		Block(seg, Newline)
	}
}
