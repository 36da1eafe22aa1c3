package stream

import "strings"

// Aggregator holds the cumulative text of one session.
type Aggregator struct {
	buf strings.Builder
}

// Apply appends fragment and returns the new cumulative text.
func (a *Aggregator) Apply(fragment string) string {
	a.buf.WriteString(fragment)
	return a.buf.String()
}

// Text returns the cumulative text.
func (a *Aggregator) Text() string {
	return a.buf.String()
}

// Len returns the length in bytes of the cumulative text.
func (a *Aggregator) Len() int {
	return a.buf.Len()
}
