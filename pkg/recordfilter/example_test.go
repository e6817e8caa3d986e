package recordfilter_test

import (
	"fmt"

	"github.com/epithet-ssh/jsonflt/pkg/recordfilter"
)

func ExampleFilter_Analyze() {
	// A 16 byte ring whose data starts at offset 12 and wraps to the front.
	buf := make([]byte, 16)
	stream := `{"a":1}` + "\n" + `[2`
	for i := range len(stream) {
		buf[(12+i)%len(buf)] = stream[i]
	}

	f, err := recordfilter.New(recordfilter.JSON)
	if err != nil {
		panic(err)
	}
	res, err := f.Analyze(buf, 12, len(stream), 0)
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Consumed, res.Parsed, res.Failed, res.MoreData())
	// Output: 8 1 1 true
}

func ExampleParseStrategy() {
	s, err := recordfilter.ParseStrategy(" NewlineSIMD ")
	if err != nil {
		panic(err)
	}
	fmt.Println(s, "-", s.Description())
	// Output: newlinesimd - newline with simd
}
