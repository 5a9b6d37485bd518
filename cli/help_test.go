package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/grovetools/livequery/tui/theme"
)

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four five six", 10)
	for _, line := range strings.Split(got, "\n") {
		assert.LessOrEqual(t, len(line), 10)
	}
	assert.Equal(t, "short\nkept", wrapText("short\nkept", 10))
}

func TestParseDescription(t *testing.T) {
	desc, examples := parseDescription("Watch a query.\n\nExamples:\n  livequery watch 'many rooms { id } live'")
	assert.Equal(t, "Watch a query.", desc)
	assert.Equal(t, "livequery watch 'many rooms { id } live'", examples)

	desc, examples = parseDescription("No examples here.")
	assert.Equal(t, "No examples here.", desc)
	assert.Empty(t, examples)
}

func TestParseChoices(t *testing.T) {
	desc, choices := parseChoices("Table update policy: upsert, append, or merge")
	assert.Equal(t, "Table update policy:", desc)
	assert.Equal(t, []string{"upsert", "append", "merge"}, choices)

	desc, choices = parseChoices("Server URL")
	assert.Equal(t, "Server URL", desc)
	assert.Nil(t, choices)
}

func TestStyledHelpWritesToCommandOutput(t *testing.T) {
	root := NewStandardCommand("livequery", "Live query client")
	sub := &cobra.Command{
		Use:     "shell",
		Short:   "Interactive statement shell",
		Example: "livequery shell --address ws://localhost:9000/ws",
		Run:     func(*cobra.Command, []string) {},
	}
	root.AddCommand(sub)
	SetStyledHelpWithExtras(sub, func(w io.Writer, _ *theme.Theme) {
		io.WriteString(w, "BUILTINS\n")
	})

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"shell", "--help"})
	assert.NoError(t, root.Execute())

	out := buf.String()
	assert.Contains(t, out, "LIVEQUERY SHELL")
	assert.Contains(t, out, "Interactive statement shell")
	assert.Contains(t, out, "EXAMPLES")
	assert.Contains(t, out, "BUILTINS")
}
