// Package filewatch re-reads a statement file whenever it changes on disk.
package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/logging"
)

// DefaultDebounce is the window in which repeated writes are coalesced.
const DefaultDebounce = 100 * time.Millisecond

// StatementWatcher watches one file and reports its trimmed contents each
// time they change. The parent directory is watched rather than the file,
// since editors often save by renaming a temporary file over the original.
type StatementWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(statement string)
	logger   *logrus.Entry

	mu         sync.Mutex
	last       string
	lastChange time.Time
}

// New creates a watcher for path. The current contents count as already
// seen, so onChange only fires for edits made after New returns.
func New(path string, debounce time.Duration, onChange func(statement string)) (*StatementWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &StatementWatcher{
		watcher:  watcher,
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		logger:   logging.NewLogger("filewatch").WithField("path", abs),
	}
	if data, err := os.ReadFile(abs); err == nil {
		w.last = strings.TrimSpace(string(data))
	}
	return w, nil
}

// Start processes events until ctx is done or the watcher is closed.
func (w *StatementWatcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			w.logger.Debugf("fsnotify event: op=%v", event.Op)
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handleChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// handleChange reads the file and reports new, non-empty contents.
func (w *StatementWatcher) handleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if elapsed := time.Since(w.lastChange); elapsed < w.debounce {
		// A write landing inside the window is picked up after it closes.
		time.Sleep(w.debounce - elapsed)
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Debug("statement file unreadable")
		return
	}
	statement := strings.TrimSpace(string(data))
	if statement == "" || statement == w.last {
		return
	}
	w.last = statement
	w.lastChange = time.Now()

	w.logger.Info("statement file changed")
	if w.onChange != nil {
		w.onChange(statement)
	}
}

// Close stops the watcher and releases resources.
func (w *StatementWatcher) Close() error {
	return w.watcher.Close()
}
