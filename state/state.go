// Package state persists the shell's statement history between sessions.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grovetools/livequery/pkg/paths"
)

// DefaultLimit is the number of statements kept when no limit is given.
const DefaultLimit = 500

// Entry is one statement the user ran.
type Entry struct {
	Statement string    `yaml:"statement"`
	Address   string    `yaml:"address,omitempty"`
	At        time.Time `yaml:"at"`
}

type historyFile struct {
	Entries []Entry `yaml:"entries"`
}

// History is an ordered list of statements, oldest first.
type History struct {
	path    string
	limit   int
	entries []Entry
}

// Load reads the history file at path. An empty path selects the default
// location under the state directory. A missing file yields an empty history.
func Load(path string, limit int) (*History, error) {
	if path == "" {
		path = paths.HistoryPath()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	h := &History{path: path, limit: limit}
	if path == "" {
		return h, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var f historyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}
	h.entries = f.Entries
	h.trim()
	return h, nil
}

// Add records a statement. Blank statements and immediate repeats are
// ignored. It reports whether the statement was recorded.
func (h *History) Add(statement, address string) bool {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return false
	}
	if n := len(h.entries); n > 0 && h.entries[n-1].Statement == statement {
		return false
	}
	h.entries = append(h.entries, Entry{Statement: statement, Address: address, At: time.Now().UTC()})
	h.trim()
	return true
}

func (h *History) trim() {
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append([]Entry(nil), h.entries[over:]...)
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (h *History) Entries() []Entry {
	return append([]Entry(nil), h.entries...)
}

// Statements returns the recorded statement texts, oldest first.
func (h *History) Statements() []string {
	out := make([]string, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.Statement
	}
	return out
}

// Last returns up to n of the most recent entries, oldest first.
func (h *History) Last(n int) []Entry {
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	return append([]Entry(nil), h.entries[len(h.entries)-n:]...)
}

// Len returns the number of recorded entries.
func (h *History) Len() int { return len(h.entries) }

// Path returns the file the history is saved to.
func (h *History) Path() string { return h.path }

// Save writes the history file, creating its directory if needed.
func (h *History) Save() error {
	if h.path == "" {
		return fmt.Errorf("no history path: state directory could not be resolved")
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := yaml.Marshal(historyFile{Entries: h.entries})
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if err := os.WriteFile(h.path, data, 0644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

// Clear drops every entry.
func (h *History) Clear() {
	h.entries = nil
}
