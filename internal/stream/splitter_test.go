package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitter_Lines(t *testing.T) {
	var s Splitter

	assert.Equal(t, []string{"a", "b"}, s.Feed([]byte("a\nb\nc")))
	assert.Equal(t, []string{"cd"}, s.Feed([]byte("d\n")))
	assert.Nil(t, s.Feed([]byte("e")))
	assert.Equal(t, []string{"ef", ""}, s.Feed([]byte("f\r\n\n")))
}

func TestSplitter_FlushDropsPartial(t *testing.T) {
	var s Splitter

	assert.Equal(t, []string{"a"}, s.Feed([]byte("a\nbc")))
	assert.Equal(t, 2, s.Flush())
	assert.Equal(t, 0, s.Flush())
	assert.Equal(t, []string{"d"}, s.Feed([]byte("d\n")))
}

func TestSplitter_ChunkBoundaryInvariance(t *testing.T) {
	input := []byte("data: {\"delta\":\"héllo\"}\r\n\ndata: [DONE]\n")

	var whole Splitter
	want := whole.Feed(input)

	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			var s Splitter
			var got []string
			got = append(got, s.Feed(input[:i])...)
			got = append(got, s.Feed(input[i:j])...)
			got = append(got, s.Feed(input[j:])...)
			assert.Equal(t, want, got, "split at %d,%d", i, j)
		}
	}
}
