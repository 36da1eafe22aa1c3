package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markis/aichat/internal/conversation"
)

func TestPrintHistory(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore(conversation.WithWelcome("welcome"))
	require.NoError(t, store.Append(ctx, conversation.NewMessage(conversation.RoleUser, "hi")))

	var buf bytes.Buffer
	require.NoError(t, printHistory(ctx, &buf, store))

	out := buf.String()
	assert.Contains(t, out, "assistant\nwelcome\n")
	assert.Contains(t, out, "user\nhi\n")
	assert.Less(t, strings.Index(out, "welcome"), strings.Index(out, "hi"))
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	logger := newLogger(&buf, "info", false)
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))

	logger = newLogger(&buf, "bogus", false)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))

	logger = newLogger(&buf, "error", true)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))
}
