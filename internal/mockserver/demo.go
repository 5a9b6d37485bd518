package mockserver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/logging"
	"github.com/grovetools/livequery/pkg/tree"
	"github.com/grovetools/livequery/pkg/wire"
)

var (
	selectPattern = regexp.MustCompile(`(?i)^\s*(many|one)\s+(\w+)`)
	wherePattern  = regexp.MustCompile(`(?i)where\s+name\s*=\s*"([^"]*)"`)
	writePattern  = regexp.MustCompile(`(?i)^\s*(insert|update|createtable)\b`)
	livePattern   = regexp.MustCompile(`(?i)\blive\s*;?\s*$`)
)

type table struct {
	name       string
	primaryKey string
	columns    []string
}

var demoTables = []table{
	{name: "rooms", primaryKey: "id", columns: []string{"id", "name"}},
	{name: "messages", primaryKey: "id", columns: []string{"id", "room_id", "author", "body"}},
}

// subscription is one live statement on one session.
type subscription struct {
	session *Session
	id      int
	table   string
	nested  bool
}

// Demo serves a small chat dataset: rooms, each with a to-many messages
// selection. Live statements receive a table_update or record_update on
// every tick. The dataset is kept in a tree.Store and every pushed update is
// applied to it first, so a fresh query always sees the current state.
type Demo struct {
	log   *logrus.Entry
	store *tree.Store

	mu      sync.Mutex
	subs    []subscription
	tick    int
	nextMsg int
}

// NewDemo creates the demo dataset.
func NewDemo() *Demo {
	d := &Demo{
		log:     logging.NewLogger("mockserver"),
		store:   tree.NewStore(tree.WithLogger(logging.NewLogger("mockserver"))),
		nextMsg: 3,
	}
	d.store.Apply(&tree.InitialResult{
		Schema: map[string]any{"rooms": map[string]any{"messages": "many"}},
		Data: tree.Tree{
			{"id": 1, "name": "general", "messages": tree.Tree{
				{"id": 1, "room_id": 1, "author": "pete", "body": "hello"},
				{"id": 2, "room_id": 1, "author": "vilterp", "body": "hi there"},
			}},
			{"id": 2, "name": "random", "messages": tree.Tree{}},
		},
	})
	return d
}

// Snapshot returns the current dataset.
func (d *Demo) Snapshot() tree.Tree {
	return d.store.Snapshot()
}

// HandleStatement answers selects with the current data, writes with an ack
// and anything else with an error.
func (d *Demo) HandleStatement(s *Session, id int, statement string) {
	// Held across reply and registration so no tick falls between them.
	d.mu.Lock()
	defer d.mu.Unlock()

	reply := d.answer(statement)
	if err := s.Send(id, reply); err != nil {
		d.log.WithError(err).Warn("reply failed")
		return
	}
	if reply.Kind() != tree.KindInitialResult || !livePattern.MatchString(statement) {
		return
	}

	m := selectPattern.FindStringSubmatch(statement)
	sub := subscription{
		session: s,
		id:      id,
		table:   strings.ToLower(m[2]),
		nested:  strings.Contains(strings.ToLower(statement), "messages:"),
	}
	d.subs = append(d.subs, sub)
	d.log.WithFields(logrus.Fields{"channel": id, "table": sub.table}).Info("live subscription")
}

func (d *Demo) answer(statement string) wire.Update {
	if writePattern.MatchString(statement) {
		return &wire.Ack{Message: strings.ToUpper(writePattern.FindStringSubmatch(statement)[1]) + " 1"}
	}
	m := selectPattern.FindStringSubmatch(statement)
	if m == nil {
		return &wire.QueryError{Message: fmt.Sprintf("parse error: %q", strings.TrimSpace(statement))}
	}
	nested := strings.Contains(strings.ToLower(statement), "messages:")

	switch name := strings.ToLower(m[2]); name {
	case "rooms":
		return &tree.InitialResult{Data: d.rooms(nested)}
	case "messages":
		return &tree.InitialResult{Data: d.messages()}
	case "__tables__":
		if w := wherePattern.FindStringSubmatch(statement); w != nil {
			for _, t := range demoTables {
				if t.name == w[1] {
					return &tree.InitialResult{Data: tree.Tree{describe(t)}}
				}
			}
			return &wire.QueryError{Message: fmt.Sprintf("no such table: %s", w[1])}
		}
		out := tree.Tree{}
		for _, t := range demoTables {
			out = append(out, tree.Record{"name": t.name, "primary_key": t.primaryKey})
		}
		return &tree.InitialResult{Data: out}
	default:
		return &wire.QueryError{Message: fmt.Sprintf("no such table: %s", name)}
	}
}

func describe(t table) tree.Record {
	cols := tree.Tree{}
	for _, c := range t.columns {
		col := tree.Record{"name": c, "references": nil}
		if c == "room_id" {
			col["references"] = "rooms"
		}
		cols = append(cols, col)
	}
	return tree.Record{"name": t.name, "primary_key": t.primaryKey, "columns": cols}
}

func (d *Demo) rooms(nested bool) tree.Tree {
	snap := d.store.Snapshot()
	if nested {
		return snap
	}
	out := make(tree.Tree, 0, len(snap))
	for _, room := range snap {
		out = append(out, tree.Record{"id": room["id"], "name": room["name"]})
	}
	return out
}

func (d *Demo) messages() tree.Tree {
	out := tree.Tree{}
	for _, room := range d.store.Snapshot() {
		if msgs, ok := room["messages"].(tree.Tree); ok {
			out = append(out, msgs...)
		}
	}
	return out
}

// Run pushes one update to every live subscription per interval until ctx
// is done.
func (d *Demo) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick advances the dataset by one event and pushes it. Odd ticks post a
// new message to the general room, even ticks rename a room.
func (d *Demo) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tick++
	var nestedOp, flatOp, roomOp tree.Operation
	if d.tick%2 == 1 {
		msg := tree.Record{"id": d.nextMsg, "room_id": 1, "author": "bot", "body": fmt.Sprintf("message %d", d.nextMsg)}
		d.nextMsg++
		nestedOp = &tree.TableUpdate{
			Path:   tree.QueryPath{{Selection: "rooms", ID: 1}, {Selection: "messages"}},
			Record: msg,
		}
		flatOp = &tree.TableUpdate{Path: tree.QueryPath{{Selection: "messages"}}, Record: msg}
		d.store.Apply(nestedOp)
	} else {
		roomID := 1 + (d.tick/2)%2
		roomOp = &tree.RecordUpdate{
			Path:      tree.QueryPath{{Selection: "rooms", ID: roomID}},
			NewRecord: tree.Record{"id": roomID, "name": fmt.Sprintf("room-%d", d.tick)},
		}
		d.store.Apply(roomOp)
	}

	d.subs = pruneSubs(d.subs)
	for _, sub := range d.subs {
		var op tree.Operation
		switch {
		case sub.table == "rooms" && roomOp != nil:
			op = roomOp
		case sub.table == "rooms" && sub.nested:
			op = nestedOp
		case sub.table == "messages":
			op = flatOp
		}
		if op == nil {
			continue
		}
		if err := sub.session.Send(sub.id, op); err != nil {
			d.log.WithError(err).WithField("channel", sub.id).Debug("push failed")
		}
	}
}

func pruneSubs(subs []subscription) []subscription {
	out := subs[:0]
	for _, sub := range subs {
		select {
		case <-sub.session.Done():
		default:
			out = append(out, sub)
		}
	}
	return out
}

// Subscriptions returns the number of live subscriptions.
func (d *Demo) Subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
