package stream

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSessionUsed is reported when Run is called on a session that already ran.
	ErrSessionUsed = errors.New("stream session already used")
	// ErrNoBody is reported when the transport opened without a readable body.
	ErrNoBody = errors.New("no response body")
	// ErrMalformedFrame marks a data frame whose payload could not be parsed.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Subscriber receives the notifications of one session. OnFragment is called
// zero or more times with the cumulative text, followed by exactly one of
// OnCompleted or OnFailed unless the session is cancelled.
type Subscriber interface {
	OnFragment(text string)
	OnCompleted()
	OnFailed(err error)
}

// Funcs adapts plain functions to a Subscriber. Nil fields are ignored.
type Funcs struct {
	Fragment  func(text string)
	Completed func()
	Failed    func(err error)
}

func (f Funcs) OnFragment(text string) {
	if f.Fragment != nil {
		f.Fragment(text)
	}
}

func (f Funcs) OnCompleted() {
	if f.Completed != nil {
		f.Completed()
	}
}

func (f Funcs) OnFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

type multi []Subscriber

// Multi fans every notification out to subs, in argument order.
func Multi(subs ...Subscriber) Subscriber {
	return multi(subs)
}

func (m multi) OnFragment(text string) {
	for _, s := range m {
		s.OnFragment(text)
	}
}

func (m multi) OnCompleted() {
	for _, s := range m {
		s.OnCompleted()
	}
}

func (m multi) OnFailed(err error) {
	for _, s := range m {
		s.OnFailed(err)
	}
}

// Source yields the raw chunks of a response body in arrival order.
// Next returns io.EOF once the body ended cleanly; any other error is a
// transport failure. Close must be safe to call more than once and from
// another goroutine, and must unblock a pending Next.
type Source interface {
	Next() ([]byte, error)
	Close() error
}

// OpenFunc opens the transport for a session.
type OpenFunc func(ctx context.Context) (Source, error)

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Outcome is the terminal result of a session. Err is set for failed and
// cancelled sessions.
type Outcome struct {
	State State
	Text  string
	Err   error
}

// TransportError describes a failure to obtain or read the response stream.
type TransportError struct {
	Status  int    // HTTP status code, zero when no response was received
	Message string // upstream error message, if any
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Status != 0:
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	case e.Err != nil:
		return "transport: " + e.Err.Error()
	default:
		return "transport error"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
