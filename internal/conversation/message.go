package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrNotFound is returned when a message id is not in the store.
var ErrNotFound = errors.New("message not found")

// Message is one entry of the conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Store holds the ordered conversation history. Implementations are safe
// for concurrent use.
type Store interface {
	// Messages returns a copy of the history in insertion order.
	Messages(ctx context.Context) ([]Message, error)
	// Append adds a message at the end of the history.
	Append(ctx context.Context, m Message) error
	// Replace sets the content of the message with the given id.
	Replace(ctx context.Context, id, content string) error
	// Clear removes every message.
	Clear(ctx context.Context) error
	// Close releases any underlying resources.
	Close() error
}

// Option configures a store at construction.
type Option func(*options)

type options struct {
	welcome string
}

// WithWelcome seeds a new, never persisted conversation with an assistant
// greeting.
func WithWelcome(text string) Option {
	return func(o *options) {
		o.welcome = text
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) seed() []Message {
	if o.welcome == "" {
		return nil
	}
	return []Message{{
		ID:        "welcome",
		Role:      RoleAssistant,
		Content:   o.welcome,
		Timestamp: time.Now(),
	}}
}

// Open returns the store for driver ("memory", "file" or "sqlite").
func Open(driver, path string, opts ...Option) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(opts...), nil
	case "file":
		return NewFileStore(path, opts...)
	case "sqlite":
		return NewSQLiteStore(path, opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func validate(m Message) error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("invalid role %q", m.Role)
	}
}
