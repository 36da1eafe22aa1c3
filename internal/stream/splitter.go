package stream

import "strings"

// Splitter reassembles newline-delimited frames from chunks that may cut
// a line anywhere, including inside a multi-byte character.
type Splitter struct {
	partial []byte
}

// Feed appends chunk to the retained partial line and returns every
// complete line, in order, without its line terminator.
func (s *Splitter) Feed(chunk []byte) []string {
	s.partial = append(s.partial, chunk...)

	var lines []string
	start := 0
	for i, b := range s.partial {
		if b != '\n' {
			continue
		}
		lines = append(lines, strings.TrimSuffix(string(s.partial[start:i]), "\r"))
		start = i + 1
	}

	// Keep only the unterminated tail
	rest := copy(s.partial, s.partial[start:])
	s.partial = s.partial[:rest]
	return lines
}

// Flush drops any unterminated tail. It returns the number of bytes dropped.
func (s *Splitter) Flush() int {
	n := len(s.partial)
	s.partial = s.partial[:0]
	return n
}
