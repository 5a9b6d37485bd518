package tui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestInitializeTUI(t *testing.T) {
	prev := lipgloss.ColorProfile()
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })

	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	InitializeTUI()
	assert.Equal(t, termenv.TrueColor, lipgloss.ColorProfile())

	t.Setenv("NO_COLOR", "1")
	InitializeTUI()
	assert.Equal(t, termenv.Ascii, lipgloss.ColorProfile())
}
