package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markis/aichat/internal/stream"
)

type failingBody struct {
	r   io.Reader
	err error
}

func (b *failingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func (b *failingBody) Close() error {
	return nil
}

func openBody(body io.ReadCloser) stream.OpenFunc {
	return func(context.Context) (stream.Source, error) {
		return stream.NewReaderSource(body, 0), nil
	}
}

func TestTurn_Begin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithWelcome("welcome"))

	turn, err := Begin(ctx, store, "question", nil)
	require.NoError(t, err)

	require.Len(t, turn.History, 2)
	assert.Equal(t, "welcome", turn.History[0].Content)
	assert.Equal(t, RoleUser, turn.History[1].Role)
	assert.Equal(t, "question", turn.History[1].Content)

	msgs, err := store.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, turn.ID, msgs[2].ID)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Empty(t, msgs[2].Content)
}

func TestTurn_StreamsIntoPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	turn, err := Begin(ctx, store, "hi", nil)
	require.NoError(t, err)

	var seen []string
	sub := stream.Multi(turn, stream.Funcs{Fragment: func(string) {
		msgs, _ := store.Messages(ctx)
		seen = append(seen, msgs[len(msgs)-1].Content)
	}})
	body := io.NopCloser(strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: [DONE]\n\n"))
	out := stream.NewSession(sub).Run(ctx, openBody(body))

	assert.Equal(t, stream.StateCompleted, out.State)
	assert.Equal(t, []string{"Hel", "Hello"}, seen)
	assert.NoError(t, turn.Err())

	msgs, err := store.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestTurn_FailureKeepsPartial(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	turn, err := Begin(ctx, store, "hi", nil)
	require.NoError(t, err)

	body := &failingBody{
		r:   strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"),
		err: errors.New("connection reset"),
	}
	out := stream.NewSession(turn).Run(ctx, openBody(body))
	assert.Equal(t, stream.StateFailed, out.State)

	msgs, err := store.Messages(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi\n\nError: transport: connection reset", msgs[1].Content)
}

func TestTurn_StoreErrorsAreKept(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	turn, err := Begin(ctx, store, "hi", nil)
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx))

	turn.OnFragment("x")
	assert.True(t, errors.Is(turn.Err(), ErrNotFound))
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "Error: boom", FailureText("", errors.New("boom")))
	assert.Equal(t, "part\n\nError: boom", FailureText("part", errors.New("boom")))
	assert.Equal(t, "Error: unknown error", FailureText("", nil))
}
