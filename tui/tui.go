// Package tui holds terminal setup shared by the interactive commands.
package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// InitializeTUI picks the lipgloss color profile. NO_COLOR disables color;
// CLICOLOR_FORCE=1 or COLORTERM=truecolor forces true color even when output
// is not a terminal, which keeps recorded sessions and CI logs styled.
func InitializeTUI() {
	switch {
	case os.Getenv("NO_COLOR") != "":
		lipgloss.SetColorProfile(termenv.Ascii)
	case os.Getenv("CLICOLOR_FORCE") == "1" || os.Getenv("COLORTERM") == "truecolor":
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}
