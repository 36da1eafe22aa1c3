package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/markis/aichat/internal/stream"
)

// Turn is one user prompt and the assistant reply streamed into a
// placeholder message. It implements stream.Subscriber.
type Turn struct {
	// ID is the id of the assistant placeholder message.
	ID string
	// History is what should be sent upstream: the conversation up to and
	// including the user prompt.
	History []Message

	ctx    context.Context
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	text string
	err  error
}

var _ stream.Subscriber = (*Turn)(nil)

// Begin appends the user prompt and an empty assistant placeholder to the
// store and returns the turn that fills it.
func Begin(ctx context.Context, store Store, prompt string, logger *slog.Logger) (*Turn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.Append(ctx, NewMessage(RoleUser, prompt)); err != nil {
		return nil, fmt.Errorf("append prompt: %w", err)
	}
	history, err := store.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	reply := NewMessage(RoleAssistant, "")
	if err := store.Append(ctx, reply); err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	return &Turn{
		ID:      reply.ID,
		History: history,
		ctx:     context.WithoutCancel(ctx),
		store:   store,
		logger:  logger,
	}, nil
}

// OnFragment replaces the placeholder content with the cumulative text.
func (t *Turn) OnFragment(text string) {
	t.mu.Lock()
	t.text = text
	t.mu.Unlock()
	t.replace(text)
}

func (t *Turn) OnCompleted() {
	t.logger.Debug("reply completed", "id", t.ID)
}

// OnFailed keeps any partial reply and appends the failure to it.
func (t *Turn) OnFailed(err error) {
	t.mu.Lock()
	text := t.text
	t.mu.Unlock()
	t.replace(FailureText(text, err))
}

// Err returns the first store error met while updating the placeholder.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) replace(content string) {
	err := t.store.Replace(t.ctx, t.ID, content)
	if err == nil {
		return
	}
	t.logger.Warn("update reply", "id", t.ID, "error", err)
	t.mu.Lock()
	t.err = errors.Join(t.err, err)
	t.mu.Unlock()
}

// FailureText is the content shown in a reply slot after a failure.
func FailureText(partial string, err error) string {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	if partial == "" {
		return "Error: " + msg
	}
	return partial + "\n\nError: " + msg
}
