package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
)

// Session decodes one streamed response and reports it to a Subscriber.
// A session is single-use and owns its buffers exclusively, so independent
// sessions may run concurrently.
type Session struct {
	sub       Subscriber
	logger    *slog.Logger
	extractor *Extractor
	splitter  Splitter
	agg       Aggregator

	used  atomic.Bool
	state atomic.Int32
}

// Opt configures a Session.
type Opt func(*Session)

// WithLogger sets the logger used for skipped frames and transitions.
func WithLogger(logger *slog.Logger) Opt {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStrategies replaces the default extraction chain.
func WithStrategies(strategies ...Strategy) Opt {
	return func(s *Session) {
		s.extractor = NewExtractor(strategies...)
	}
}

// NewSession creates an idle session reporting to sub.
func NewSession(sub Subscriber, opts ...Opt) *Session {
	s := &Session{
		sub:    sub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = NewExtractor()
	}
	if s.sub == nil {
		s.sub = Funcs{}
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Text returns the cumulative text. It must not be called while Run is in
// progress on another goroutine.
func (s *Session) Text() string {
	return s.agg.Text()
}

// Run opens the transport and decodes the stream until a terminal state is
// reached. It blocks until then and reports the terminal result both to the
// subscriber and as the returned Outcome. When ctx is cancelled the source
// is closed and no further callbacks are made.
func (s *Session) Run(ctx context.Context, open OpenFunc) Outcome {
	if !s.used.CompareAndSwap(false, true) {
		return Outcome{State: s.State(), Err: ErrSessionUsed}
	}
	if err := ctx.Err(); err != nil {
		return s.cancelled(err)
	}

	src, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(ctx.Err())
		}
		return s.fail(ctx, err)
	}
	if src == nil {
		return s.fail(ctx, ErrNoBody)
	}
	defer func() {
		_ = src.Close()
	}()

	// Unblock a pending Next as soon as the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = src.Close()
	})
	defer stop()

	s.state.Store(int32(StateStreaming))
	s.logger.Debug("stream open")

	for {
		chunk, err := src.Next()
		if ctx.Err() != nil {
			return s.cancelled(ctx.Err())
		}
		for _, line := range s.splitter.Feed(chunk) {
			if s.handle(ctx, line) {
				return s.complete(ctx, "terminator")
			}
			if ctx.Err() != nil {
				return s.cancelled(ctx.Err())
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if n := s.splitter.Flush(); n > 0 {
				s.logger.Debug("dropped unterminated line", "bytes", n)
			}
			return s.complete(ctx, "eof")
		}
		return s.fail(ctx, err)
	}
}

// handle processes one line and reports whether it was the terminator.
func (s *Session) handle(ctx context.Context, line string) bool {
	frame := Classify(line)
	switch frame.Kind {
	case FrameTerminator:
		return true
	case FrameNoise:
		return false
	}

	fragment, strategy, err := s.extractor.Extract(frame.Payload, s.agg.Text())
	if err != nil {
		s.logger.Debug("skipped frame", "error", err)
		return false
	}
	if fragment == "" {
		return false
	}

	text := s.agg.Apply(fragment)
	if ctx.Err() == nil {
		s.logger.Debug("fragment", "strategy", strategy, "len", len(fragment))
		s.sub.OnFragment(text)
	}
	return false
}

func (s *Session) complete(ctx context.Context, reason string) Outcome {
	if ctx.Err() != nil {
		return s.cancelled(ctx.Err())
	}
	s.state.Store(int32(StateCompleted))
	s.logger.Debug("stream completed", "reason", reason, "len", s.agg.Len())
	s.sub.OnCompleted()
	return Outcome{State: StateCompleted, Text: s.agg.Text()}
}

func (s *Session) fail(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return s.cancelled(ctx.Err())
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		err = &TransportError{Err: err}
	}
	s.state.Store(int32(StateFailed))
	s.logger.Warn("stream failed", "error", err)
	s.sub.OnFailed(err)
	return Outcome{State: StateFailed, Text: s.agg.Text(), Err: err}
}

func (s *Session) cancelled(err error) Outcome {
	s.state.Store(int32(StateCancelled))
	s.logger.Debug("stream cancelled", "error", err)
	return Outcome{State: StateCancelled, Text: s.agg.Text(), Err: err}
}
