package livetree

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/livequery/pkg/tree"
)

func rooms(messages ...string) tree.Tree {
	msgs := tree.Tree{}
	for i, body := range messages {
		msgs = append(msgs, tree.Record{"id": i + 1, "body": body})
	}
	return tree.Tree{
		{"id": 1, "name": "general", "messages": msgs},
		{"id": 2, "name": "random", "messages": tree.Tree{}},
	}
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func cursorOn(t *testing.T, m Model, id string) Model {
	t.Helper()
	for i, n := range m.nodes {
		if n.id == id {
			m.cursor = i
			return m
		}
	}
	t.Fatalf("node %s not visible", id)
	return m
}

func TestRendersChanges(t *testing.T) {
	stats := tree.Stats{Dangling: 2}
	m := New(Options{
		Statement: "many rooms { id, name, messages: many messages { body } } live",
		Channel:   3,
		Stats:     func() tree.Stats { return stats },
	})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, m.View(), "waiting for initial result")
	assert.Contains(t, m.View(), "connecting")

	m = update(t, m, ChangeMsg{Kind: tree.KindInitialResult, Version: 1, Tree: rooms("hello", "hi")})
	view := m.View()
	assert.Contains(t, view, `"general"`)
	assert.Contains(t, view, "id=2")
	assert.Contains(t, view, "(2 items)")
	assert.NotContains(t, view, `"hello"`, "nested collections start collapsed")
	assert.Contains(t, view, "channel 3")
	assert.Contains(t, view, "v1")
	assert.Contains(t, view, "2 dangling")
	assert.Contains(t, view, "open")
}

func TestToggleSurvivesUpdates(t *testing.T) {
	m := New(Options{})
	m = update(t, m,
		tea.WindowSizeMsg{Width: 100, Height: 40},
		ChangeMsg{Version: 1, Tree: rooms("hello")},
	)

	m = cursorOn(t, m, "[id=1].messages")
	m = update(t, m, keyPress("l"))
	m = cursorOn(t, m, "[id=1].messages[id=1]")
	m = update(t, m, keyPress("l"))
	assert.Contains(t, m.View(), `"hello"`)

	m = update(t, m, ChangeMsg{Version: 2, Tree: rooms("hello", "again")})
	view := m.View()
	assert.Contains(t, view, "(2 items)")
	assert.Contains(t, view, "id=2")
	assert.Contains(t, view, `"hello"`)
	require.NotNil(t, m.current())
	assert.Equal(t, "[id=1].messages[id=1]", m.current().id, "cursor follows the node id")

	m = update(t, m, keyPress("h"))
	assert.NotContains(t, m.View(), `"hello"`)
}

func TestExpandAndCollapseAll(t *testing.T) {
	m := New(Options{})
	m = update(t, m,
		tea.WindowSizeMsg{Width: 100, Height: 40},
		ChangeMsg{Version: 1, Tree: rooms("hello")},
	)
	collapsed := len(m.nodes)

	m = update(t, m, keyPress("z"), keyPress("R"))
	assert.Greater(t, len(m.nodes), collapsed)
	assert.Contains(t, m.View(), `"hello"`)

	m = update(t, m, keyPress("z"), keyPress("M"))
	assert.Len(t, m.nodes, 2)
	assert.Equal(t, 0, m.cursor)
}

func TestCursorMovement(t *testing.T) {
	m := New(Options{})
	m = update(t, m,
		tea.WindowSizeMsg{Width: 100, Height: 40},
		ChangeMsg{Version: 1, Tree: rooms()},
	)

	m = update(t, m, keyPress("k"))
	assert.Equal(t, 0, m.cursor)
	m = update(t, m, keyPress("j"), keyPress("j"))
	assert.Equal(t, 2, m.cursor)
	m = update(t, m, keyPress("G"))
	assert.Equal(t, len(m.nodes)-1, m.cursor)
	m = update(t, m, keyPress("g"), keyPress("g"))
	assert.Equal(t, 0, m.cursor)
}

func TestStatusAndQuit(t *testing.T) {
	m := New(Options{Channel: 7})
	m = update(t, m,
		tea.WindowSizeMsg{Width: 120, Height: 20},
		StatusMsg{State: "closed", Err: errors.New("connection closed by server")},
	)
	view := m.View()
	assert.Contains(t, view, "closed")
	assert.Contains(t, view, "connection closed by server")

	_, cmd := m.Update(keyPress("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestWaitForChange(t *testing.T) {
	assert.Nil(t, WaitForChange(nil))

	store := tree.NewStore()
	changes, cancel := store.Subscribe()
	store.Apply(&tree.InitialResult{Data: rooms("hello")})

	msg := WaitForChange(changes)()
	change, ok := msg.(ChangeMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(1), change.Version)
	assert.Len(t, change.Tree, 2)

	cancel()
	assert.IsType(t, changesClosedMsg{}, WaitForChange(changes)())
}

func TestRenderScalar(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"hi", `"hi"`},
		{float64(3), "3"},
		{1.5, "1.5"},
		{42, "42"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.True(t, strings.Contains(renderScalar(tt.in), tt.want), "renderScalar(%v)", tt.in)
	}
}
