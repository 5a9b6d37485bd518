package logging

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/tui/theme"
)

// TextFormatter is a custom logrus formatter.
type TextFormatter struct {
	Config FormatConfig
}

// Format renders a single log entry.
func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder

	if !f.Config.DisableTimestamp {
		b.WriteString(entry.Time.Format("2006-01-02 15:04:05"))
		b.WriteString(" ")
	}

	levelStr := entry.Level.String()
	if levelStr == "warning" {
		levelStr = "warn"
	}
	b.WriteString(fmt.Sprintf("[%s]", strings.ToUpper(levelStr)))

	if component, ok := entry.Data["component"]; ok && !f.Config.DisableComponent {
		componentStr := fmt.Sprintf("%v", component)
		if !f.Config.Plain {
			componentStr = theme.DefaultTheme.Accent.Render(componentStr)
		}
		b.WriteString(fmt.Sprintf(" [%s]", componentStr))
	}

	if entry.HasCaller() {
		fileName := filepath.Base(entry.Caller.File)
		funcName := filepath.Base(entry.Caller.Function)
		b.WriteString(fmt.Sprintf(" [%s:%d %s]", fileName, entry.Caller.Line, funcName))
	}

	b.WriteString(" ")
	b.WriteString(entry.Message)

	// Remaining fields, sorted for stable output
	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key != "component" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString(fmt.Sprintf(" %s=%v", key, entry.Data[key]))
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}
