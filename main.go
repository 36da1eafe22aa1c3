package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/markis/aichat/internal/args"
	"github.com/markis/aichat/internal/client"
	"github.com/markis/aichat/internal/config"
	"github.com/markis/aichat/internal/conversation"
	"github.com/markis/aichat/internal/render"
	"github.com/markis/aichat/internal/stream"
)

// main function to parse arguments and initiate the chat request.
func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	a, err := args.ParseArgs(ctx, *cfg, os.Args[1:], args.PipedStdin())
	if errors.Is(err, args.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	logger := newLogger(os.Stderr, cfg.LogLevel, a.Verbose)

	store, err := conversation.Open(cfg.Store.Driver, cfg.Store.Path, conversation.WithWelcome(cfg.Welcome))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	switch a.Action {
	case args.ActionClear:
		if err := store.Clear(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return 1
		}
		return 0
	case args.ActionHistory:
		if err := printHistory(ctx, os.Stdout, store); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return 1
		}
		return 0
	}

	return ask(ctx, cfg, a, store, logger)
}

// ask sends the prompt with the stored history and streams the reply to
// the terminal and into the store.
func ask(ctx context.Context, cfg *config.Config, a args.Arguments, store conversation.Store, logger *slog.Logger) int {
	turn, err := conversation.Begin(ctx, store, a.Prompt(), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	c := client.New(cfg.BaseURL, a.Model, cfg.APIKey,
		client.WithHeaders(cfg.Headers),
		client.WithLogger(logger),
	)
	renderer := render.NewTerminalRenderer(os.Stdout, a.UsePlainText, cfg.Render.Wrap)

	out := c.Chat(ctx, turn.History, stream.Multi(turn, renderer))
	if err := renderer.Err(); err != nil {
		logger.Warn("render", "error", err)
	}

	switch out.State {
	case stream.StateCompleted:
		return 0
	case stream.StateCancelled:
		// No callback fires for a cancelled session, so the screen and the
		// slot are finished here.
		renderer.Flush()
		if err := store.Replace(context.WithoutCancel(ctx), turn.ID, conversation.FailureText(out.Text, out.Err)); err != nil {
			logger.Warn("update reply", "error", err)
		}
		fmt.Fprintln(os.Stderr, "\nCancelled:", out.Err)
		return 130
	default:
		return 1
	}
}

func printHistory(ctx context.Context, w io.Writer, store conversation.Store) error {
	msgs, err := store.Messages(ctx)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if _, err := fmt.Fprintf(w, "[%s] %s\n%s\n\n", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
