package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	dataPrefix = "data:"
	doneToken  = "[DONE]"
)

// FrameKind classifies a single line of the event stream.
type FrameKind int

const (
	FrameNoise FrameKind = iota
	FrameData
	FrameTerminator
)

// Frame is one classified line. Payload is set for data frames only.
type Frame struct {
	Kind    FrameKind
	Payload string
}

// Classify inspects a line. Lines without the data prefix are noise,
// which covers blank keep-alives, comments and event/id fields.
func Classify(line string) Frame {
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{Kind: FrameNoise}
	}
	payload := strings.TrimPrefix(line[len(dataPrefix):], " ")
	if strings.TrimSpace(payload) == doneToken {
		return Frame{Kind: FrameTerminator}
	}
	return Frame{Kind: FrameData, Payload: payload}
}

// Mode tells the Extractor how a strategy's value relates to the text
// already accumulated.
type Mode int

const (
	// Append values are increments.
	Append Mode = iota
	// Snapshot values carry the full text so far.
	Snapshot
)

// Strategy pulls assistant text out of one known payload shape.
// Extract returns "" when the shape does not match.
type Strategy struct {
	Name    string
	Mode    Mode
	Extract func(p *Payload) string
}

type choice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type output struct {
	Text string `json:"text"`
}

// Payload is a data frame decoded once and shared by every strategy.
// Fields whose JSON type does not match are left zero. Raw keeps the
// original bytes for strategies reading other shapes.
type Payload struct {
	Raw     []byte          `json:"-"`
	Delta   json.RawMessage `json:"delta"`
	Choices []choice        `json:"choices"`
	Output  output          `json:"output"`
}

// DecodePayload parses a data frame. Only invalid JSON is an error.
func DecodePayload(data []byte) (*Payload, error) {
	p := &Payload{Raw: data}
	if err := json.Unmarshal(data, p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, err
		}
	}
	return p, nil
}

func (p *Payload) firstChoice() (choice, bool) {
	if len(p.Choices) == 0 {
		return choice{}, false
	}
	return p.Choices[0], true
}

// DeltaStrategy reads choices[0].delta.content, falling back to a
// top-level string delta.
func DeltaStrategy() Strategy {
	return Strategy{Name: "delta", Mode: Append, Extract: func(p *Payload) string {
		if c, ok := p.firstChoice(); ok && c.Delta.Content != "" {
			return c.Delta.Content
		}
		var text string
		if len(p.Delta) == 0 || json.Unmarshal(p.Delta, &text) != nil {
			return ""
		}
		return text
	}}
}

// OutputStrategy reads output.text.
func OutputStrategy() Strategy {
	return Strategy{Name: "output", Mode: Append, Extract: func(p *Payload) string {
		return p.Output.Text
	}}
}

// MessageStrategy reads choices[0].message.content.
func MessageStrategy() Strategy {
	return Strategy{Name: "message", Mode: Append, Extract: func(p *Payload) string {
		c, _ := p.firstChoice()
		return c.Message.Content
	}}
}

// DefaultStrategies returns the built-in chain in precedence order.
func DefaultStrategies() []Strategy {
	return []Strategy{DeltaStrategy(), OutputStrategy(), MessageStrategy()}
}

// Extractor runs a strategy chain over data frame payloads.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor returns an Extractor over strategies, or the default chain
// when none are given.
func NewExtractor(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies}
}

// Extract returns the increment carried by payload given the text applied
// so far, and the name of the strategy that matched. An empty fragment with
// a nil error means the frame carries nothing to apply.
func (e *Extractor) Extract(payload string, current string) (fragment, strategy string, err error) {
	p, err := DecodePayload([]byte(payload))
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedFrame, truncate(payload, 64))
	}

	for _, s := range e.strategies {
		value := s.Extract(p)
		if value == "" {
			continue
		}
		if s.Mode == Snapshot {
			// A snapshot that does not extend the current text cannot be
			// applied without rewriting what was already delivered.
			if !strings.HasPrefix(value, current) {
				return "", s.Name, nil
			}
			value = value[len(current):]
		}
		return value, s.Name, nil
	}
	return "", "", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
