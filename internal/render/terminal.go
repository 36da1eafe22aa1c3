package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cli/go-gh/v2/pkg/markdown"

	"github.com/markis/aichat/internal/stream"
)

// TerminalRenderer prints a streamed reply as it grows. Cumulative text is
// written out one markdown block at a time, so markdown is never rendered
// from half a paragraph.
type TerminalRenderer struct {
	out       io.Writer
	markdown  *glamour.TermRenderer
	plainText bool
	printed   int
	text      string
	err       error
}

var _ stream.Subscriber = (*TerminalRenderer)(nil)

// NewTerminalRenderer creates a renderer writing to out. It falls back to
// plain text when markdown rendering is unavailable.
func NewTerminalRenderer(out io.Writer, usePlainText bool, wrap int) *TerminalRenderer {
	if wrap <= 0 {
		wrap = 120
	}
	var md *glamour.TermRenderer
	if !usePlainText {
		var err error
		md, err = glamour.NewTermRenderer(
			markdown.WithWrap(wrap),
			glamour.WithAutoStyle(),
		)
		if err != nil {
			usePlainText = true
		}
	}

	return &TerminalRenderer{
		out:       out,
		markdown:  md,
		plainText: usePlainText,
	}
}

// OnFragment prints every complete block not printed yet.
func (t *TerminalRenderer) OnFragment(text string) {
	if len(text) < t.printed || !strings.HasPrefix(text, t.text[:t.printed]) {
		// Not an extension of what is on screen; start over on a new line
		t.write("\n")
		t.printed = 0
	}
	t.text = text

	content := text[t.printed:]
	if idx := findMarkdownBreakPoint(content); idx > 0 {
		t.renderContent(content[:idx])
		t.printed += idx
	}
}

// OnCompleted prints the remaining content.
func (t *TerminalRenderer) OnCompleted() {
	t.Flush()
	t.write("\n")
}

// OnFailed prints the remaining content followed by the failure.
func (t *TerminalRenderer) OnFailed(err error) {
	t.Flush()
	t.write(fmt.Sprintf("\nError: %v\n", err))
}

// Err returns the first error met while rendering or writing.
func (t *TerminalRenderer) Err() error {
	return t.err
}

// Flush prints whatever has not been printed yet. A cancelled stream makes
// no further callbacks, so the caller flushes the partial reply itself.
func (t *TerminalRenderer) Flush() {
	if remaining := t.text[t.printed:]; remaining != "" {
		t.renderContent(remaining)
		t.printed = len(t.text)
	}
}

func (t *TerminalRenderer) renderContent(content string) {
	if t.plainText {
		t.write(content)
		return
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	if strings.HasPrefix(content, "#") {
		t.write("\n")
	}

	mdContent, err := t.markdown.Render(content)
	if err != nil {
		t.setErr(fmt.Errorf("failed to render markdown: %w", err))
		t.write(content + "\n")
		return
	}

	t.write(strings.TrimSpace(mdContent) + "\n")
}

func (t *TerminalRenderer) write(s string) {
	if _, err := io.WriteString(t.out, s); err != nil {
		t.setErr(err)
	}
}

func (t *TerminalRenderer) setErr(err error) {
	if t.err == nil {
		t.err = err
	}
}

func findMarkdownBreakPoint(content string) int {
	const marker string = "\n\n"
	lastBreak := -1
	idx := strings.LastIndex(content, marker)
	if idx > lastBreak {
		lastBreak = idx + len(marker)
	}
	return lastBreak
}
