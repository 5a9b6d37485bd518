// Package logging provides the per-component logrus loggers used across
// livequery.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/pkg/paths"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	// Load configuration from livequery.yml
	var logCfg Config
	if cfg, err := config.LoadDefault(); err == nil {
		// Use UnmarshalExtension to safely decode the logging part
		if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
			// Log a warning if parsing fails, but continue with defaults
			logrus.Warnf("Failed to parse 'logging' config: %v", err)
		}
	}

	entry := New(component, logCfg, isInteractive(os.Stderr))
	loggers[component] = entry
	return entry
}

// New builds a logger for component from an explicit configuration without
// touching the cache. interactive reports whether stderr is a terminal.
func New(component string, logCfg Config, interactive bool) *logrus.Entry {
	logger := logrus.New()

	// Configure Level
	levelStr := "info"
	if env := os.Getenv("LIVEQUERY_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Configure Caller Reporting
	if os.Getenv("LIVEQUERY_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	logger.SetFormatter(newFormatter(logCfg.Format))

	if logCfg.File.Enabled {
		if hook, err := newFileHook(component, logCfg.File); err != nil {
			logger.Warnf("Failed to open log file: %v", err)
		} else {
			logger.AddHook(hook)
		}
	}

	if shouldLogToStderr(logCfg.Format.StructuredToStderr, logger.GetLevel(), interactive) {
		logger.SetOutput(os.Stderr)
	} else {
		// Use io.Discard rather than defaulting to stderr; the file hook
		// still receives every entry.
		logger.SetOutput(io.Discard)
	}

	return logger.WithField("component", component)
}

func newFormatter(format FormatConfig) logrus.Formatter {
	switch format.Preset {
	case "json":
		return &logrus.JSONFormatter{}
	case "simple":
		return &TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}}
	default:
		return &TextFormatter{Config: format}
	}
}

// shouldLogToStderr resolves the structured_to_stderr mode. In "auto" mode
// structured logs reach stderr only when debugging or when stderr is not an
// interactive terminal (piped output, CI).
func shouldLogToStderr(mode string, level logrus.Level, interactive bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		isDebug := os.Getenv("LIVEQUERY_DEBUG") == "1" || level >= logrus.DebugLevel
		return isDebug || !interactive
	}
}

func isInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// fileHook writes every entry to a log file with its own formatter, so the
// file can be JSON while stderr stays human readable.
type fileHook struct {
	mu        sync.Mutex
	out       io.Writer
	formatter logrus.Formatter
}

func newFileHook(component string, sink FileSinkConfig) (*fileHook, error) {
	path := defaultLogFile(component)
	if sink.Path != "" {
		path = expandPath(sink.Path)
	}
	if path == "" {
		return nil, fmt.Errorf("no log directory available")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	var formatter logrus.Formatter = &TextFormatter{Config: FormatConfig{Plain: true}}
	if sink.Format == "json" {
		formatter = &logrus.JSONFormatter{}
	}
	return &fileHook{out: file, formatter: formatter}, nil
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(line)
	return err
}

// defaultLogFile is <state dir>/logs/<component>-<date>.log.
func defaultLogFile(component string) string {
	dir := paths.LogDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, time.Now().Format("2006-01-02")))
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
