package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/grovetools/livequery/tui/theme"
)

// HelpExtrasFunc renders additional help sections, such as the shell
// builtins, after the examples.
type HelpExtrasFunc func(w io.Writer, t *theme.Theme)

var (
	helpExtras   = make(map[*cobra.Command]HelpExtrasFunc)
	helpExtrasMu sync.RWMutex
)

const (
	helpMaxWidth = 72
	helpMinWidth = 40
)

func helpWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < helpMinWidth || width > helpMaxWidth {
		return helpMaxWidth
	}
	return width
}

// wrapText wraps each paragraph of text at width columns. Lines that already
// fit are left alone.
func wrapText(text string, width int) string {
	if width <= 0 {
		width = helpMaxWidth
	}
	var out []string
	for _, para := range strings.Split(text, "\n") {
		if len(para) <= width {
			out = append(out, para)
			continue
		}
		line := ""
		for _, word := range strings.Fields(para) {
			switch {
			case line == "":
				line = word
			case len(line)+1+len(word) <= width:
				line += " " + word
			default:
				out = append(out, line)
				line = word
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// SetStyledHelp installs the styled help renderer on cmd. Subcommands inherit
// it through cobra's parent lookup.
func SetStyledHelp(cmd *cobra.Command) {
	cmd.SetHelpFunc(renderHelp)
}

// SetStyledHelpWithExtras installs the styled help renderer and registers
// extras to run after the examples section.
func SetStyledHelpWithExtras(cmd *cobra.Command, extras HelpExtrasFunc) {
	helpExtrasMu.Lock()
	helpExtras[cmd] = extras
	helpExtrasMu.Unlock()
	cmd.SetHelpFunc(renderHelp)
}

// parseDescription splits a Long text at its "Examples:" marker.
func parseDescription(long string) (description, examples string) {
	for _, marker := range []string{"\nExamples:\n", "\nExample:\n"} {
		if i := strings.Index(long, marker); i >= 0 {
			return strings.TrimSpace(long[:i]), strings.TrimSpace(long[i+len(marker):])
		}
	}
	return long, ""
}

// parseChoices pulls an enumerated value list out of a flag usage such as
// "Table update policy: upsert, append, or merge". Fewer than three values
// are left inline.
func parseChoices(usage string) (string, []string) {
	colon := strings.Index(usage, ": ")
	if colon < 0 {
		return usage, nil
	}
	list, suffix := usage[colon+2:], ""
	if i := strings.Index(list, " ("); i >= 0 {
		list, suffix = list[:i], list[i:]
	}
	parts := strings.Split(list, ", ")
	if len(parts) < 3 {
		return usage, nil
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(strings.TrimPrefix(p, "or "))
	}
	return usage[:colon+1] + suffix, parts
}

// helpWriter renders one command's help page.
type helpWriter struct {
	w     io.Writer
	t     *theme.Theme
	width int

	section lipgloss.Style
	name    lipgloss.Style
	flag    lipgloss.Style
}

func newHelpWriter(w io.Writer) *helpWriter {
	t := theme.DefaultTheme
	return &helpWriter{
		w:       w,
		t:       t,
		width:   helpWidth() - 2,
		section: lipgloss.NewStyle().Italic(true).Foreground(t.Colors.Orange),
		name:    lipgloss.NewStyle().Bold(true).Foreground(t.Colors.Blue),
		flag:    lipgloss.NewStyle().Foreground(t.Colors.Violet),
	}
}

func (h *helpWriter) line(s string) { fmt.Fprintln(h.w, " "+s) }

func (h *helpWriter) heading(s string) {
	fmt.Fprintln(h.w)
	h.line(h.section.Render(s))
}

func (h *helpWriter) paragraph(text string, style *lipgloss.Style) {
	for _, l := range strings.Split(wrapText(text, h.width), "\n") {
		if style != nil {
			l = style.Render(l)
		}
		h.line(l)
	}
}

func renderHelp(cmd *cobra.Command, _ []string) {
	h := newHelpWriter(cmd.OutOrStdout())

	title := lipgloss.NewStyle().Bold(true).Foreground(h.t.Colors.Orange)
	h.line(title.Render(strings.ToUpper(cmd.CommandPath())))

	description, examples := parseDescription(cmd.Long)
	if cmd.Short != "" {
		h.paragraph(cmd.Short, &h.t.Italic)
	}
	if description != "" && description != cmd.Short {
		fmt.Fprintln(h.w)
		h.paragraph(description, nil)
	}

	if cmd.Runnable() || cmd.HasSubCommands() {
		h.heading("USAGE")
		if cmd.Runnable() {
			h.line(cmd.UseLine())
		}
		if cmd.HasSubCommands() {
			h.line(cmd.CommandPath() + " [command]")
		}
	}

	h.commands(cmd)
	h.flags(cmd)

	if cmd.Example != "" {
		examples = cmd.Example
	}
	if examples != "" {
		h.heading("EXAMPLES")
		h.examples(examples, strings.Fields(cmd.CommandPath())[0])
	}

	helpExtrasMu.RLock()
	extras := helpExtras[cmd]
	helpExtrasMu.RUnlock()
	if extras != nil {
		extras(h.w, h.t)
	}

	if cmd.HasSubCommands() {
		fmt.Fprintf(h.w, "\n Use \"%s [command] --help\" for more information.\n", cmd.CommandPath())
	}
}

func (h *helpWriter) commands(cmd *cobra.Command) {
	if !cmd.HasAvailableSubCommands() {
		return
	}
	var subs []*cobra.Command
	pad := 0
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			subs = append(subs, sub)
			pad = max(pad, len(sub.Name()))
		}
	}
	h.heading("COMMANDS")
	for _, sub := range subs {
		h.line(fmt.Sprintf("%s%s  %s", h.name.Render(sub.Name()), strings.Repeat(" ", pad-len(sub.Name())), sub.Short))
	}
}

func (h *helpWriter) flags(cmd *cobra.Command) {
	var flags []*pflag.Flag
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			flags = append(flags, f)
		}
	})
	if len(flags) == 0 {
		return
	}

	// Parent commands get a compact one-line list.
	if cmd.HasAvailableSubCommands() {
		names := make([]string, 0, len(flags))
		for _, f := range flags {
			names = append(names, strings.TrimSpace(flagName(f)))
		}
		fmt.Fprintln(h.w)
		h.line(h.t.Muted.Render("Flags: " + strings.Join(names, ", ")))
		return
	}

	h.heading("FLAGS")
	pad := 0
	for _, f := range flags {
		pad = max(pad, len(flagName(f)))
	}
	for _, f := range flags {
		name := flagName(f)
		usage, choices := parseChoices(f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "[]" && f.DefValue != "0s" {
			usage += h.t.Muted.Render(fmt.Sprintf(" (default: %s)", f.DefValue))
		}
		h.line(fmt.Sprintf("%s%s  %s", h.flag.Render(name), strings.Repeat(" ", pad-len(name)), usage))
		for _, c := range choices {
			h.line(strings.Repeat(" ", pad+2) + h.t.Muted.Render("• "+c))
		}
	}
}

func flagName(f *pflag.Flag) string {
	if f.Shorthand != "" {
		return fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	}
	return "    --" + f.Name
}

// examples renders example lines: comments muted, the program name and
// subcommand highlighted, flags in the flag color.
func (h *helpWriter) examples(text, program string) {
	sub := lipgloss.NewStyle().Foreground(h.t.Colors.Cyan)
	for _, raw := range strings.Split(text, "\n") {
		l := strings.TrimSpace(raw)
		switch {
		case l == "":
			fmt.Fprintln(h.w)
		case strings.HasPrefix(l, "#"):
			h.line(h.t.Muted.Render(l))
		default:
			words := strings.Fields(l)
			for i, w := range words {
				switch {
				case i == 0 && w == program:
					words[i] = h.name.Render(w)
				case i == 1 && !strings.HasPrefix(w, "-"):
					words[i] = sub.Render(w)
				case strings.HasPrefix(w, "-"):
					words[i] = h.flag.Render(w)
				}
			}
			h.line("  " + strings.Join(words, " "))
		}
	}
}
