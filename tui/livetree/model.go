// Package livetree is a Bubble Tea viewer for the result tree of a live
// query. It redraws whenever the backing tree.Store publishes a change.
package livetree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/grovetools/livequery/pkg/tree"
	"github.com/grovetools/livequery/tui/theme"
)

const sequenceWindow = 500 * time.Millisecond

type kind int

const (
	kindScalar kind = iota
	kindObject
	kindList
)

// node is one line of the rendered tree.
type node struct {
	id       string
	key      string
	value    any
	kind     kind
	depth    int
	children []*node
}

// ChangeMsg delivers a store change to the model.
type ChangeMsg tree.Change

// StatusMsg updates the connection state shown in the status line.
type StatusMsg struct {
	State string
	Err   error
}

// ChannelMsg replaces the channel id shown in the status line, for example
// after the statement was re-issued.
type ChannelMsg int

type changesClosedMsg struct{}

// Options configures a Model.
type Options struct {
	Title     string
	Statement string
	Channel   int
	// Changes is usually the channel returned by tree.Store.Subscribe.
	Changes <-chan tree.Change
	// Stats, when set, is polled after every change for the dangling count.
	Stats      func() tree.Stats
	PrimaryKey string
}

// Model is the Bubble Tea model for the live tree viewer.
type Model struct {
	opts     Options
	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool

	data    tree.Tree
	version uint64
	stats   tree.Stats
	state   string
	err     error

	roots    []*node
	nodes    []*node // visible nodes in render order
	expanded map[string]bool
	cursor   int

	lastZPress time.Time
	lastGPress time.Time
}

// New creates a viewer. Top-level records start expanded and nested
// collections collapsed.
func New(opts Options) Model {
	if opts.Title == "" {
		opts.Title = "livequery"
	}
	if opts.PrimaryKey == "" {
		opts.PrimaryKey = "id"
	}
	return Model{
		opts:     opts,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		state:    "connecting",
		expanded: make(map[string]bool),
	}
}

// WaitForChange reads the next change from ch.
func WaitForChange(ch <-chan tree.Change) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return changesClosedMsg{}
		}
		return ChangeMsg(c)
	}
}

// Init starts listening for changes.
func (m Model) Init() tea.Cmd {
	return WaitForChange(m.opts.Changes)
}

// SetSize sets the size of the component.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width

	vh := height - m.chromeHeight()
	if vh < 1 {
		vh = 1
	}
	if m.ready {
		m.viewport.Width = width
		m.viewport.Height = vh
	} else {
		m.viewport = viewport.New(width, vh)
		m.ready = true
	}
	m.updateContent()
}

// header, status line and help
func (m *Model) chromeHeight() int {
	return 2 + lipgloss.Height(m.help.View(m.keys))
}

// Update handles messages and user input.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case ChangeMsg:
		m.data = msg.Tree
		m.version = msg.Version
		if m.opts.Stats != nil {
			m.stats = m.opts.Stats()
		}
		if m.state == "connecting" {
			m.state = "open"
		}
		m.rebuild()
		return m, WaitForChange(m.opts.Changes)

	case StatusMsg:
		m.state = msg.State
		m.err = msg.Err
		return m, nil

	case ChannelMsg:
		m.opts.Channel = int(msg)
		return m, nil

	case changesClosedMsg:
		m.state = "closed"
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	keyStr := msg.String()

	if keyStr == "z" {
		m.lastZPress = time.Now()
		return m, nil
	}
	if time.Since(m.lastZPress) < sequenceWindow {
		switch keyStr {
		case "R":
			m.setAll(true)
			m.lastZPress = time.Time{}
			return m, nil
		case "M":
			m.setAll(false)
			m.cursor = 0
			m.lastZPress = time.Time{}
			m.updateContent()
			return m, nil
		}
	}

	if keyStr == "g" {
		if time.Since(m.lastGPress) < sequenceWindow {
			m.cursor = 0
			m.lastGPress = time.Time{}
			m.updateContent()
			return m, nil
		}
		m.lastGPress = time.Now()
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		if m.ready {
			m.SetSize(m.width, m.height)
		}

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.keys.HalfPageUp):
		m.moveCursor(-max(m.viewport.Height/2, 1))

	case key.Matches(msg, m.keys.HalfPageDown):
		m.moveCursor(max(m.viewport.Height/2, 1))

	case key.Matches(msg, m.keys.GotoEnd):
		m.moveCursor(len(m.nodes))

	case key.Matches(msg, m.keys.Toggle):
		if n := m.current(); n != nil && len(n.children) > 0 {
			m.expanded[n.id] = !m.isExpanded(n)
			m.flatten()
			m.updateContent()
		}

	case key.Matches(msg, m.keys.Fold):
		if n := m.current(); n != nil && len(n.children) > 0 && m.isExpanded(n) {
			m.expanded[n.id] = false
			m.flatten()
			m.updateContent()
		}
	}
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	m.clampCursor()
	m.updateContent()
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.nodes) {
		m.cursor = len(m.nodes) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) current() *node {
	if m.cursor < 0 || m.cursor >= len(m.nodes) {
		return nil
	}
	return m.nodes[m.cursor]
}

func (m *Model) isExpanded(n *node) bool {
	if v, ok := m.expanded[n.id]; ok {
		return v
	}
	return n.depth == 0
}

func (m *Model) setAll(expanded bool) {
	var walk func(nodes []*node)
	walk = func(nodes []*node) {
		for _, n := range nodes {
			if len(n.children) > 0 {
				m.expanded[n.id] = expanded
				walk(n.children)
			}
		}
	}
	walk(m.roots)
	m.flatten()
	m.clampCursor()
	m.updateContent()
}

// rebuild regenerates the nodes from the current data. Expansion state and
// the cursor follow node ids, so they survive updates that move records.
func (m *Model) rebuild() {
	var cursorID string
	if n := m.current(); n != nil {
		cursorID = n.id
	}

	m.roots = m.buildRecords("", m.data, 0)
	m.flatten()

	for i, n := range m.nodes {
		if n.id == cursorID {
			m.cursor = i
			break
		}
	}
	m.clampCursor()
	m.updateContent()
}

func (m *Model) flatten() {
	m.nodes = m.nodes[:0]
	var walk func(nodes []*node)
	walk = func(nodes []*node) {
		for _, n := range nodes {
			m.nodes = append(m.nodes, n)
			if len(n.children) > 0 && m.isExpanded(n) {
				walk(n.children)
			}
		}
	}
	walk(m.roots)
}

func (m *Model) recordLabel(rec tree.Record, i int) string {
	if k, ok := rec.Key(m.opts.PrimaryKey); ok {
		return m.opts.PrimaryKey + "=" + k
	}
	return fmt.Sprintf("#%d", i)
}

func (m *Model) buildRecords(parentID string, t tree.Tree, depth int) []*node {
	out := make([]*node, 0, len(t))
	for i, rec := range t {
		label := m.recordLabel(rec, i)
		out = append(out, m.buildValue(parentID+"["+label+"]", label, rec, depth))
	}
	return out
}

func (m *Model) buildValue(id, key string, value any, depth int) *node {
	n := &node{id: id, key: key, value: value, depth: depth}

	switch v := value.(type) {
	case tree.Tree:
		n.kind = kindList
		n.children = m.buildRecords(id, v, depth+1)
	case []any:
		n.kind = kindList
		for i, item := range v {
			label := fmt.Sprintf("[%d]", i)
			if rec, ok := item.(map[string]any); ok {
				label = m.recordLabel(tree.Record(rec), i)
			}
			n.children = append(n.children, m.buildValue(id+"["+label+"]", label, item, depth+1))
		}
	case tree.Record:
		n.kind = kindObject
		n.children = m.buildFields(id, v, depth+1)
	case map[string]any:
		n.kind = kindObject
		n.children = m.buildFields(id, tree.Record(v), depth+1)
	}
	return n
}

func (m *Model) buildFields(parentID string, rec tree.Record, depth int) []*node {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*node, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.buildValue(parentID+"."+k, k, rec[k], depth))
	}
	return out
}

func (m *Model) updateContent() {
	if !m.ready {
		return
	}

	lines := make([]string, 0, len(m.nodes))
	for i, n := range m.nodes {
		lines = append(lines, m.renderNode(n, i == m.cursor))
	}
	if len(lines) == 0 {
		lines = append(lines, theme.DefaultTheme.Muted.Render("waiting for initial result..."))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))

	if m.cursor < m.viewport.YOffset {
		m.viewport.SetYOffset(m.cursor)
	} else if m.cursor >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(m.cursor - m.viewport.Height + 1)
	}
}

func (m *Model) renderNode(n *node, selected bool) string {
	t := theme.DefaultTheme
	icons := theme.CurrentIcons()
	indent := strings.Repeat("  ", n.depth)

	var prefix, value string
	switch n.kind {
	case kindObject:
		prefix = icons.Collapsed
		if m.isExpanded(n) {
			prefix = icons.Expanded
		}
		value = t.Muted.Render(fmt.Sprintf("(%d fields)", len(n.children)))
	case kindList:
		prefix = icons.Collapsed
		if m.isExpanded(n) {
			prefix = icons.Expanded
		}
		value = t.Muted.Render(fmt.Sprintf("(%d items)", len(n.children)))
	default:
		prefix = icons.Leaf
		value = renderScalar(n.value)
	}

	line := fmt.Sprintf("%s%s %s: %s", indent, prefix, t.Key.Render(n.key), value)
	if selected {
		line = t.Selected.Render(line)
	}
	return line
}

func renderScalar(value any) string {
	t := theme.DefaultTheme
	switch v := value.(type) {
	case nil:
		return t.Null.Render("null")
	case string:
		return t.String.Render(strconv.Quote(v))
	case json.Number:
		return t.Number.Render(v.String())
	case float64:
		if v == float64(int64(v)) {
			return t.Number.Render(fmt.Sprintf("%.0f", v))
		}
		return t.Number.Render(strconv.FormatFloat(v, 'g', -1, 64))
	case int, int32, int64, uint, uint32, uint64, float32:
		return t.Number.Render(fmt.Sprintf("%v", v))
	case bool:
		return t.Bool.Render(strconv.FormatBool(v))
	default:
		return t.Normal.Render(fmt.Sprintf("%v", v))
	}
}

func (m Model) statusLine() string {
	t := theme.DefaultTheme
	icons := theme.CurrentIcons()

	var state string
	switch m.state {
	case "open":
		state = t.Success.Render(icons.Connected + " open")
	case "closed":
		state = t.Error.Render(icons.Closed + " closed")
	default:
		state = t.Warning.Render(icons.Waiting + " " + m.state)
	}

	dangling := t.Muted.Render("0 dangling")
	if m.stats.Dangling > 0 {
		dangling = t.Warning.Render(fmt.Sprintf("%s %d dangling", icons.Warning, m.stats.Dangling))
	}

	parts := []string{
		state,
		t.Muted.Render(fmt.Sprintf("channel %d", m.opts.Channel)),
		t.Muted.Render(fmt.Sprintf("v%d", m.version)),
		t.Muted.Render(fmt.Sprintf("%d records", m.data.Len())),
		dangling,
	}
	if m.err != nil {
		parts = append(parts, t.Error.Render(m.err.Error()))
	}
	return strings.Join(parts, "  ")
}

// View renders the viewer.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	header := theme.DefaultTheme.Bold.Render(m.opts.Title)
	if m.opts.Statement != "" {
		header += "  " + theme.DefaultTheme.Muted.Render(m.opts.Statement)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.statusLine(),
		m.help.View(m.keys),
	)
}
