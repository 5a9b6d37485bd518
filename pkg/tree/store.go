package tree

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/logging"
)

// Change is delivered to Subscribe channels after a changing Apply.
type Change struct {
	Kind    string
	Version uint64
	Tree    Tree
}

// Stats counts what a Store has seen.
type Stats struct {
	Applied     uint64
	NoOps       uint64
	Dangling    uint64
	Version     uint64
	Initialized bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrimaryKey sets the field used to match path ids.
func WithPrimaryKey(field string) StoreOption {
	return func(s *Store) { s.applier.PrimaryKey = field }
}

// WithTablePolicy sets how table updates treat existing keys.
func WithTablePolicy(p TablePolicy) StoreOption {
	return func(s *Store) { s.applier.Policy = p }
}

// WithLogger overrides the store's logger.
func WithLogger(l *logrus.Entry) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store holds the current snapshot of one live query and notifies observers
// when it changes. It is safe for concurrent use.
type Store struct {
	// notifyMu serializes Apply calls so observers see changes in order.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	applier   Applier
	tree      Tree
	schema    any
	stats     Stats
	nextID    int
	observers []treeObserver
	dangling  []danglingObserver
	subs      map[chan Change]struct{}

	logger *logrus.Entry
}

type treeObserver struct {
	id int
	fn func(Tree)
}

type danglingObserver struct {
	id int
	fn func(DanglingRef)
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		tree: Tree{},
		subs: make(map[chan Change]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("tree")
	}
	return s
}

// Apply applies op to the current snapshot. Observers registered with
// OnTreeChanged run synchronously, in registration order, before Apply
// returns.
func (s *Store) Apply(op Operation) Outcome {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next, out := s.applier.Apply(s.tree, op)
	if out.Dangling != nil {
		s.stats.Dangling++
	}
	if !out.Changed {
		s.stats.NoOps++
		dangling := append([]danglingObserver(nil), s.dangling...)
		s.mu.Unlock()

		if out.Dangling != nil {
			s.logger.WithFields(logrus.Fields{
				"kind":  out.Dangling.Kind,
				"path":  out.Dangling.Path.String(),
				"depth": out.Dangling.Depth,
			}).Warn(out.Dangling.Reason)
			for _, o := range dangling {
				o.fn(*out.Dangling)
			}
		}
		return out
	}

	s.tree = next
	if init, ok := op.(*InitialResult); ok {
		s.schema = init.Schema
		s.stats.Initialized = true
	}
	s.stats.Applied++
	s.stats.Version++
	version := s.stats.Version
	observers := append([]treeObserver(nil), s.observers...)
	change := Change{Kind: op.Kind(), Version: version, Tree: next}
	for ch := range s.subs {
		publish(ch, change)
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"kind":    op.Kind(),
		"version": version,
		"records": len(next),
	}).Debug("Applied operation")

	for _, o := range observers {
		o.fn(next)
	}
	return out
}

// publish delivers c, replacing a pending change nobody has read yet.
func publish(ch chan Change, c Change) {
	for {
		select {
		case ch <- c:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Snapshot returns the current tree. The result must not be modified.
func (s *Store) Snapshot() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// Schema returns the schema of the last initial result.
func (s *Store) Schema() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// Stats returns a copy of the store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// OnTreeChanged registers fn to run after every changing Apply and returns a
// function that removes it. fn runs while Apply still holds the store's
// apply lock: it may read the store (Snapshot, Schema, Stats) but must not
// call Apply, which would deadlock.
func (s *Store) OnTreeChanged(fn func(Tree)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, treeObserver{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// OnDangling registers fn to run whenever an operation addresses a record
// that is not in the tree. Like OnTreeChanged observers, fn must not call
// Apply.
func (s *Store) OnDangling(fn func(DanglingRef)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.dangling = append(s.dangling, danglingObserver{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.dangling {
			if o.id == id {
				s.dangling = append(s.dangling[:i:i], s.dangling[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a channel that receives the latest change. Slow readers
// skip intermediate versions. The returned function unsubscribes and closes
// the channel.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Change, 1)
	s.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, ch)
			close(ch)
		})
	}
}
