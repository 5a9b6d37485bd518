package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/grovetools/livequery/tui/theme"
)

// PrettyLogger writes user-facing console messages. Structured logs go
// through NewLogger; this is for what the CLI tells the person at the
// keyboard.
type PrettyLogger struct {
	writer io.Writer
	styles PrettyStyles
}

// PrettyStyles contains lipgloss styles for different message types
type PrettyStyles struct {
	Success lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Key     lipgloss.Style
	Value   lipgloss.Style
	Path    lipgloss.Style
	Code    lipgloss.Style
}

// DefaultPrettyStyles derives the styles from the active theme.
func DefaultPrettyStyles() PrettyStyles {
	t := theme.DefaultTheme
	return PrettyStyles{
		Success: t.Success,
		Info:    t.Info.UnsetBold(),
		Warning: t.Warning.UnsetBold(),
		Error:   t.Error,
		Key:     t.Muted,
		Value:   t.Highlight,
		Path:    t.Key.Italic(true),
		Code:    t.Accent.UnsetBold(),
	}
}

// NewPrettyLogger creates a pretty logger writing to stderr.
func NewPrettyLogger() *PrettyLogger {
	return &PrettyLogger{
		writer: os.Stderr,
		styles: DefaultPrettyStyles(),
	}
}

// WithWriter sets a custom writer for pretty output
func (p *PrettyLogger) WithWriter(w io.Writer) *PrettyLogger {
	p.writer = w
	return p
}

// Success prints a message with a checkmark.
func (p *PrettyLogger) Success(message string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.styles.Success.Render("✓"),
		p.styles.Success.Render(message))
}

// InfoPretty prints an informational line.
func (p *PrettyLogger) InfoPretty(message string) {
	fmt.Fprintf(p.writer, "%s\n", p.styles.Info.Render(message))
}

// WarnPretty prints a warning.
func (p *PrettyLogger) WarnPretty(message string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.styles.Warning.Render("⚠"),
		p.styles.Warning.Render(message))
}

// ErrorPretty prints an error, with err appended when non-nil.
func (p *PrettyLogger) ErrorPretty(message string, err error) {
	fmt.Fprintf(p.writer, "%s %s",
		p.styles.Error.Render("✗"),
		p.styles.Error.Render(message))
	if err != nil {
		fmt.Fprintf(p.writer, ": %s", p.styles.Error.Render(err.Error()))
	}
	fmt.Fprintln(p.writer)
}

// Field prints a key-value pair.
func (p *PrettyLogger) Field(key string, value interface{}) {
	fmt.Fprintf(p.writer, "%s: %s\n",
		p.styles.Key.Render(key),
		p.styles.Value.Render(fmt.Sprint(value)))
}

// Path prints a labelled file path.
func (p *PrettyLogger) Path(label string, path string) {
	fmt.Fprintf(p.writer, "%s: %s\n",
		p.styles.Key.Render(label),
		p.styles.Path.Render(path))
}

// Statement echoes a statement sent on a channel, e.g. "#3 select ... live".
func (p *PrettyLogger) Statement(channel int, text string) {
	fmt.Fprintf(p.writer, "%s %s\n",
		p.styles.Key.Render(fmt.Sprintf("#%d", channel)),
		p.styles.Code.Render(text))
}

// Code prints indented multi-line content.
func (p *PrettyLogger) Code(content string) {
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.writer, "  %s\n", p.styles.Code.Render(line))
	}
}

// Divider prints a visual divider
func (p *PrettyLogger) Divider() {
	fmt.Fprintln(p.writer, p.styles.Key.Render(strings.Repeat("─", 60)))
}

// Blank prints a blank line
func (p *PrettyLogger) Blank() {
	fmt.Fprintln(p.writer)
}
