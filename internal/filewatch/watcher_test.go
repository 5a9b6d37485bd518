package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.tsql")
	require.NoError(t, os.WriteFile(path, []byte("many rooms { id }\n"), 0644))

	changes := make(chan string, 8)
	w, err := New(path, 10*time.Millisecond, func(s string) { changes <- s })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.tsql"), []byte("x"), 0644))
	// rewriting the same statement is not a change
	require.NoError(t, os.WriteFile(path, []byte("many rooms { id }"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("many rooms { id, name } live\n"), 0644))

	select {
	case got := <-changes:
		assert.Equal(t, "many rooms { id, name } live", got)
	case <-time.After(5 * time.Second):
		t.Fatal("change was not reported")
	}

	select {
	case got := <-changes:
		t.Fatalf("unexpected change %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "q.tsql"), 0, nil)
	assert.Error(t, err)
}
