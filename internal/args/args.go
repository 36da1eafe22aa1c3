package args

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/markis/aichat/internal/config"
	"github.com/spf13/cobra"
)

// Action is what the invocation asks for.
type Action string

const (
	ActionAsk     Action = "ask"
	ActionClear   Action = "clear"
	ActionHistory Action = "history"
)

// ErrHelp is returned when the invocation only asked for help.
var ErrHelp = errors.New("help requested")

// Arguments represents the command-line arguments structure.
type Arguments struct {
	Action       Action
	Prompts      []string
	Model        string
	Command      string
	UsePlainText bool
	Verbose      bool
}

// Prompt joins every prompt part into the text sent upstream.
func (a Arguments) Prompt() string {
	return strings.Join(a.Prompts, "\n\n")
}

// ParseArgs parses argv and piped stdin input, returning an Arguments struct.
// It uses Cobra to handle commands and flags, allowing for both predefined commands and direct prompts.
// stdin is nil when nothing is piped in.
func ParseArgs(ctx context.Context, cfg config.Config, argv []string, stdin io.Reader) (Arguments, error) {
	args := Arguments{Action: ActionAsk}

	rootCmd := &cobra.Command{
		Use:   "aichat [command] [flags] [prompt]",
		Short: "Chat with an AI assistant from the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			// Handle direct prompts (when no command is specified)
			if len(cmdArgs) > 0 {
				args.Prompts = append(args.Prompts, cmdArgs[0])
			}
			return nil
		},
		SilenceErrors: true, // We'll handle error reporting
		SilenceUsage:  true, // We'll handle usage display
	}
	if argv == nil {
		// cobra falls back to os.Args for nil
		argv = []string{}
	}
	rootCmd.SetArgs(argv)

	helpShown := false
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, cmdArgs []string) {
		helpShown = true
		defaultHelp(cmd, cmdArgs)
	})

	// Global flags
	rootCmd.PersistentFlags().StringVar(&args.Model, "model", cfg.Model, "The AI model to use")
	rootCmd.PersistentFlags().BoolVar(&args.UsePlainText, "plain", shouldUsePlainText(cfg), "Disable markdown rendering")
	rootCmd.PersistentFlags().BoolVarP(&args.Verbose, "verbose", "v", false, "Log stream diagnostics to stderr")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the conversation history",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Action = ActionClear
				return nil
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "Print the conversation history",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Action = ActionHistory
				return nil
			},
		},
	)

	// Add predefined commands in a stable order
	names := make([]string, 0, len(cfg.Prompts))
	for name := range cfg.Prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmdPrompt := cfg.Prompts[name]
		cmd := &cobra.Command{
			Use:   name + " [input]",
			Short: summarizePrompt(cmdPrompt.Prompt),
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, cmdArgs []string) error {
				args.Command = name
				if len(cmdArgs) > 0 {
					args.Prompts = append(args.Prompts, cmdArgs[0])
				}
				args.Prompts = append(args.Prompts, cmdPrompt.Prompt)
				if cmdPrompt.Model != "" && !cmd.Flags().Changed("model") {
					args.Model = cmdPrompt.Model
				}
				return nil
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// Read piped input
	if stdin != nil {
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max buffer
		var buf strings.Builder
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
			buf.WriteByte('\n')
		}
		if err := scanner.Err(); err != nil {
			return Arguments{}, fmt.Errorf("failed to read stdin: %w", err)
		}
		if prompt := strings.TrimSpace(buf.String()); prompt != "" {
			args.Prompts = append(args.Prompts, prompt)
		}
	}

	// Execute the command
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return Arguments{}, err
	}
	if helpShown {
		return Arguments{}, ErrHelp
	}

	// Check if we have any prompts
	if args.Action == ActionAsk && len(args.Prompts) == 0 {
		return Arguments{}, errors.New("no prompt provided")
	}

	return args, nil
}

// PipedStdin returns os.Stdin when input is piped, nil otherwise.
func PipedStdin() io.Reader {
	if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		return os.Stdin
	}
	return nil
}

// shouldUsePlainText determines if plain text output should be used based on environment and terminal settings.
func shouldUsePlainText(cfg config.Config) bool {
	// Check if the rendering format is set to plain
	if cfg.Render.Format == "plain" {
		return true
	}

	// Check if output is being redirected
	if fileInfo, _ := os.Stdout.Stat(); fileInfo != nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			return true
		}
	}

	// Check for NO_COLOR environment variable
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}

	// Check for TERM=dumb
	if term := os.Getenv("TERM"); term == "dumb" {
		return true
	}

	return false
}

func summarizePrompt(prompt string) string {
	// Trim and limit the length of the prompt summary
	summary := strings.TrimSpace(prompt)
	if len(summary) > 60 {
		summary = summary[:57] + "..."
	}
	return summary
}
