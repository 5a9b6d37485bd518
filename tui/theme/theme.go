// Package theme holds the lipgloss styles shared by the CLI, the log
// formatter and the live tree viewer.
package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/grovetools/livequery/config"
)

const defaultThemeName = "kanagawa"

// --- Kanagawa Dragon (dark) palette ---
const (
	kanagawaDarkGreen              = "#98BB6C"
	kanagawaDarkYellow             = "#FF9E3B"
	kanagawaDarkRed                = "#FF5D62"
	kanagawaDarkOrange             = "#FFA066"
	kanagawaDarkCyan               = "#7E9CD8"
	kanagawaDarkBlue               = "#7FB4CA"
	kanagawaDarkViolet             = "#957FB8"
	kanagawaDarkLightText          = "#DCD7BA"
	kanagawaDarkMutedText          = "#727169"
	kanagawaDarkBorder             = "#363646"
	kanagawaDarkSelectedBackground = "#223249"
)

// --- Kanagawa Wave (light-inspired) palette ---
const (
	kanagawaLightGreen              = "#4E7C5A"
	kanagawaLightYellow             = "#A68A64"
	kanagawaLightRed                = "#C34043"
	kanagawaLightOrange             = "#CC6B4E"
	kanagawaLightCyan               = "#5B8BBE"
	kanagawaLightBlue               = "#4D699B"
	kanagawaLightViolet             = "#674D7A"
	kanagawaLightLightText          = "#2B2F42"
	kanagawaLightMutedText          = "#6C7086"
	kanagawaLightBorder             = "#B5BDC5"
	kanagawaLightSelectedBackground = "#E2E6F3"
)

// Colors is a palette.
type Colors struct {
	Green              lipgloss.TerminalColor
	Yellow             lipgloss.TerminalColor
	Red                lipgloss.TerminalColor
	Orange             lipgloss.TerminalColor
	Cyan               lipgloss.TerminalColor
	Blue               lipgloss.TerminalColor
	Violet             lipgloss.TerminalColor
	LightText          lipgloss.TerminalColor
	MutedText          lipgloss.TerminalColor
	Border             lipgloss.TerminalColor
	SelectedBackground lipgloss.TerminalColor
}

// Theme holds all the pre-configured styles.
type Theme struct {
	Colors Colors

	Header lipgloss.Style
	Title  lipgloss.Style

	// Status indicators
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	Bold     lipgloss.Style
	Italic   lipgloss.Style
	Normal   lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style

	Box  lipgloss.Style
	Code lipgloss.Style

	Highlight lipgloss.Style
	Accent    lipgloss.Style

	// Value styles for rendering records
	Key    lipgloss.Style
	String lipgloss.Style
	Number lipgloss.Style
	Bool   lipgloss.Style
	Null   lipgloss.Style
}

var themeRegistry = map[string]func() Colors{
	"kanagawa": newKanagawaColors,
	"terminal": newTerminalColors,
}

// DefaultTheme is the theme selected by LIVEQUERY_THEME or the tui.theme
// config key.
var DefaultTheme = NewThemeWithName(getThemeName())

// NewThemeWithName constructs a theme from a specific palette name.
func NewThemeWithName(name string) *Theme {
	return newThemeFromColors(resolveThemeColors(name))
}

// RenderHeader renders a header with the default styling.
func RenderHeader(title string) string {
	return DefaultTheme.Header.Render(title)
}

// RenderStatus renders text with the appropriate status style.
func RenderStatus(status, text string) string {
	switch status {
	case "success":
		return DefaultTheme.Success.Render(text)
	case "error":
		return DefaultTheme.Error.Render(text)
	case "warning":
		return DefaultTheme.Warning.Render(text)
	case "info":
		return DefaultTheme.Info.Render(text)
	default:
		return text
	}
}

func newThemeFromColors(colors Colors) *Theme {
	return &Theme{
		Colors: colors,

		Header: lipgloss.NewStyle().
			Bold(true).
			MarginBottom(1),

		Title: lipgloss.NewStyle().
			Bold(true).
			Underline(true),

		Success: lipgloss.NewStyle().Foreground(colors.Green).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(colors.Red).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(colors.Yellow).Bold(true),
		Info:    lipgloss.NewStyle().Foreground(colors.Cyan).Bold(true),

		Bold:   lipgloss.NewStyle().Bold(true),
		Italic: lipgloss.NewStyle().Italic(true),
		Normal: lipgloss.NewStyle(),
		Muted:  lipgloss.NewStyle().Faint(true),
		Selected: lipgloss.NewStyle().
			Background(colors.SelectedBackground).
			Foreground(colors.LightText),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Border).
			Padding(0, 1),

		Code: lipgloss.NewStyle().
			Foreground(colors.LightText).
			MarginLeft(2),

		Highlight: lipgloss.NewStyle().Foreground(colors.Orange).Bold(true),
		Accent:    lipgloss.NewStyle().Foreground(colors.Violet).Bold(true),

		Key:    lipgloss.NewStyle().Foreground(colors.Cyan),
		String: lipgloss.NewStyle().Foreground(colors.Green),
		Number: lipgloss.NewStyle().Foreground(colors.Orange),
		Bool:   lipgloss.NewStyle().Foreground(colors.Violet),
		Null:   lipgloss.NewStyle().Foreground(colors.MutedText).Italic(true),
	}
}

func resolveThemeColors(name string) Colors {
	if builder, ok := themeRegistry[normalizeThemeName(name)]; ok {
		return builder()
	}
	return themeRegistry[defaultThemeName]()
}

func normalizeThemeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.ReplaceAll(normalized, "_", "-")
	return normalized
}

func getThemeName() string {
	if theme := normalizeThemeName(os.Getenv("LIVEQUERY_THEME")); theme != "" {
		return theme
	}

	cfg, err := config.LoadDefault()
	if err != nil || cfg == nil {
		return defaultThemeName
	}

	var tuiCfg struct {
		Theme string `yaml:"theme"`
	}
	if err := cfg.UnmarshalExtension("tui", &tuiCfg); err == nil {
		if theme := normalizeThemeName(tuiCfg.Theme); theme != "" {
			return theme
		}
	}

	return defaultThemeName
}

func newKanagawaColors() Colors {
	return Colors{
		Green:              lipgloss.AdaptiveColor{Light: kanagawaLightGreen, Dark: kanagawaDarkGreen},
		Yellow:             lipgloss.AdaptiveColor{Light: kanagawaLightYellow, Dark: kanagawaDarkYellow},
		Red:                lipgloss.AdaptiveColor{Light: kanagawaLightRed, Dark: kanagawaDarkRed},
		Orange:             lipgloss.AdaptiveColor{Light: kanagawaLightOrange, Dark: kanagawaDarkOrange},
		Cyan:               lipgloss.AdaptiveColor{Light: kanagawaLightCyan, Dark: kanagawaDarkCyan},
		Blue:               lipgloss.AdaptiveColor{Light: kanagawaLightBlue, Dark: kanagawaDarkBlue},
		Violet:             lipgloss.AdaptiveColor{Light: kanagawaLightViolet, Dark: kanagawaDarkViolet},
		LightText:          lipgloss.AdaptiveColor{Light: kanagawaLightLightText, Dark: kanagawaDarkLightText},
		MutedText:          lipgloss.AdaptiveColor{Light: kanagawaLightMutedText, Dark: kanagawaDarkMutedText},
		Border:             lipgloss.AdaptiveColor{Light: kanagawaLightBorder, Dark: kanagawaDarkBorder},
		SelectedBackground: lipgloss.AdaptiveColor{Light: kanagawaLightSelectedBackground, Dark: kanagawaDarkSelectedBackground},
	}
}

// newTerminalColors uses the terminal's own ANSI palette.
func newTerminalColors() Colors {
	return Colors{
		Green:              lipgloss.Color("2"),
		Yellow:             lipgloss.Color("3"),
		Red:                lipgloss.Color("1"),
		Orange:             lipgloss.Color("11"),
		Cyan:               lipgloss.Color("6"),
		Blue:               lipgloss.Color("4"),
		Violet:             lipgloss.Color("5"),
		LightText:          lipgloss.Color("7"),
		MutedText:          lipgloss.Color("8"),
		Border:             lipgloss.Color("8"),
		SelectedBackground: lipgloss.Color("0"),
	}
}
