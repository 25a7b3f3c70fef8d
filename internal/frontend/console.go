package frontend

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/thebtf/roundtable/pkg/models"
)

var (
	speakerPalette = []lipgloss.Color{"39", "212", "114", "214", "141", "81"}

	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Console prompts on a line-oriented terminal and renders turns with a color per speaker.
type Console struct {
	out io.Writer

	mu    sync.Mutex
	lines chan lineResult
	once  sync.Once
	in    *bufio.Scanner
}

type lineResult struct {
	text string
	err  error
}

// NewConsole creates a console over in and out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Console{out: out, in: scanner, lines: make(chan lineResult)}
}

// Ask prints prompt and waits for one line of input or ctx cancellation.
// End of input is reported as ErrNoInput.
func (c *Console) Ask(ctx context.Context, prompt string) (string, error) {
	c.once.Do(func() { go c.readLoop() })

	c.mu.Lock()
	fmt.Fprintln(c.out, promptStyle.Render(prompt))
	c.mu.Unlock()

	select {
	case r, ok := <-c.lines:
		if !ok {
			return "", ErrNoInput
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLoop feeds stdin lines to Ask. A line read while nobody is asking waits
// for the next Ask.
func (c *Console) readLoop() {
	defer close(c.lines)
	for c.in.Scan() {
		c.lines <- lineResult{text: strings.TrimRight(c.in.Text(), "\r")}
	}
	if err := c.in.Err(); err != nil {
		c.lines <- lineResult{err: err}
	}
}

// Render prints one turn as "Speaker: content".
func (c *Console) Render(turn models.Turn) {
	name := lipgloss.NewStyle().Bold(true).Foreground(speakerColor(turn.Speaker)).Render(turn.Speaker + ":")
	content := turn.Content
	if turn.IsError() {
		content = errorStyle.Render(content)
	}
	c.mu.Lock()
	fmt.Fprintf(c.out, "%s %s\n", name, content)
	c.mu.Unlock()
}

// Notify prints a status line.
func (c *Console) Notify(message string) {
	c.mu.Lock()
	fmt.Fprintln(c.out, noticeStyle.Render(message))
	c.mu.Unlock()
}

// speakerColor picks a stable palette entry for name.
func speakerColor(name string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(name)))
	return speakerPalette[h.Sum32()%uint32(len(speakerPalette))]
}
