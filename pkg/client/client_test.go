package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/internal/mockserver"
	"github.com/grovetools/livequery/pkg/tree"
	"github.com/grovetools/livequery/pkg/wire"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T, h mockserver.Handler) (*mockserver.Server, string) {
	t.Helper()
	srv := mockserver.New(h)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func quietLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func dial(t *testing.T, addr string, opts ...Option) (*Conn, *test.Hook) {
	t.Helper()
	log, hook := quietLogger()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	c, err := Dial(ctx, addr, append([]Option{WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, hook
}

// pending records statements without answering them, so the test decides
// what each channel receives.
type pending struct {
	ch chan call
}

type call struct {
	session   *mockserver.Session
	id        int
	statement string
}

func newPending() *pending {
	return &pending{ch: make(chan call, 64)}
}

func (p *pending) HandleStatement(s *mockserver.Session, id int, statement string) {
	p.ch <- call{session: s, id: id, statement: statement}
}

func (p *pending) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-p.ch:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for statement")
		return call{}
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestQueryAndExec(t *testing.T) {
	_, addr := startServer(t, mockserver.NewDemo())
	c, _ := dial(t, addr)
	ctx := context.Background()

	res, err := c.Query(ctx, "many rooms { id, name }")
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "general", res.Data[0]["name"])

	ack, err := c.Exec(ctx, `insert into rooms values ("3", "lobby")`)
	require.NoError(t, err)
	assert.Equal(t, "INSERT 1", ack)

	_, err = c.Query(ctx, "many nope { id }")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeQueryFailed))
	assert.Contains(t, err.Error(), "no such table: nope")

	_, err = c.Exec(ctx, "many rooms { id }")
	assert.True(t, errors.Is(err, errors.ErrCodeQueryFailed), "a result tree is not an ack")

	// one-shot helpers close their channels
	assert.Equal(t, 0, c.Stats().OpenChannels)
}

func TestDo(t *testing.T) {
	_, addr := startServer(t, mockserver.NewDemo())
	c, _ := dial(t, addr)
	ctx := context.Background()

	u, err := c.Do(ctx, "createtable users { id string primarykey }")
	require.NoError(t, err)
	assert.Equal(t, "CREATETABLE 1", u.(*wire.Ack).Message)

	u, err = c.Do(ctx, "many messages { body }")
	require.NoError(t, err)
	assert.Equal(t, tree.KindInitialResult, u.Kind())

	_, err = c.Do(ctx, "drop everything")
	assert.True(t, errors.Is(err, errors.ErrCodeQueryFailed))
}

func TestConcurrentSendersKeepIdentities(t *testing.T) {
	echo := mockserver.HandlerFunc(func(s *mockserver.Session, id int, statement string) {
		s.Send(id, &wire.Ack{Message: statement})
	})
	_, addr := startServer(t, echo)
	c, _ := dial(t, addr)

	const senders = 16
	type reply struct{ want, got string }
	replies := make(chan reply, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("statement %d", i)
			c.SendStatement(text, func(u wire.Update) {
				replies <- reply{want: text, got: u.(*wire.Ack).Message}
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < senders; i++ {
		r := recv(t, replies)
		assert.Equal(t, r.want, r.got)
	}
}

func TestRoutingByIdentity(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, _ := dial(t, addr)

	type got struct {
		channel int
		data    tree.Tree
	}
	results := make(chan got, 3)
	var channels []*Channel
	for i := 0; i < 3; i++ {
		ch := c.SendStatement(fmt.Sprintf("statement %d", i))
		ch.On(EventUpdate, func(u wire.Update) {
			results <- got{channel: ch.ID(), data: u.(*tree.InitialResult).Data}
		})
		channels = append(channels, ch)
	}

	// answer in reverse order; routing follows the identity, not arrival
	calls := []call{p.next(t), p.next(t), p.next(t)}
	for i := len(calls) - 1; i >= 0; i-- {
		st := calls[i]
		require.NoError(t, st.session.Send(st.id, &tree.InitialResult{
			Data: tree.Tree{{"id": st.id, "statement": st.statement}},
		}))
	}

	for i := 0; i < 3; i++ {
		r := recv(t, results)
		assert.Equal(t, fmt.Sprintf("statement %d", r.channel), r.data[0]["statement"])
	}
	for i, ch := range channels {
		assert.Equal(t, i, ch.ID(), "identities start at 0 and follow send order")
	}
}

func TestStatementsQueuedBeforeOpen(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	log, _ := quietLogger()

	opened := make(chan struct{})
	c := Open(addr, WithLogger(log), WithEventHandler(EventOpen, func(error) { close(opened) }))
	t.Cleanup(func() { c.Close() })

	acks := make(chan string, 2)
	for _, stmt := range []string{"insert a", "insert b"} {
		ch := c.SendStatement(stmt)
		ch.On(EventUpdate, func(u wire.Update) { acks <- u.(*wire.Ack).Message })
	}

	recv(t, opened)
	for i, want := range []string{"insert a", "insert b"} {
		st := p.next(t)
		assert.Equal(t, i, st.id)
		assert.Equal(t, want, st.statement)
		require.NoError(t, st.session.Send(st.id, &wire.Ack{Message: st.statement}))
	}
	assert.Equal(t, "insert a", recv(t, acks))
	assert.Equal(t, "insert b", recv(t, acks))
	assert.Equal(t, uint64(2), c.Stats().Sent)
}

func TestUnroutableFrameDropped(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, hook := dial(t, addr)

	ch := c.SendStatement("many rooms { id }")
	updates := make(chan wire.Update, 1)
	ch.On(EventUpdate, func(u wire.Update) { updates <- u })

	st := p.next(t)
	require.NoError(t, st.session.Send(99, &tree.InitialResult{Data: tree.Tree{{"id": 1}}}))
	require.NoError(t, st.session.Send(st.id, &tree.InitialResult{Data: tree.Tree{{"id": 2}}}))

	u := recv(t, updates)
	assert.Equal(t, "2", fmt.Sprint(u.(*tree.InitialResult).Data[0]["id"]))
	assert.Equal(t, uint64(1), c.Stats().Unroutable)
	assert.Equal(t, StateOpen, c.State())

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "dropping frame" && errors.Is(e.Data[logrus.ErrorKey].(error), errors.ErrCodeUnroutableFrame) {
			warned = true
		}
	}
	assert.True(t, warned, "unroutable frame is logged with its error code")
}

func TestMalformedFramesDropped(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, _ := dial(t, addr)

	ch := c.SendStatement("many rooms { id }")
	updates := make(chan wire.Update, 4)
	ch.On(EventUpdate, func(u wire.Update) { updates <- u })
	st := p.next(t)

	require.NoError(t, st.session.PushRaw([]byte("not json")))
	require.NoError(t, st.session.PushRaw([]byte(fmt.Sprintf(`{"ChannelIdentity":%d,"Message":{"Type":"bogus","Payload":{}}}`, st.id))))
	require.NoError(t, st.session.PushRaw([]byte(fmt.Sprintf(`{"ChannelIdentity":%d,"Message":{"Type":"table_update","Payload":{"QueryPath":[],"Selection":[]}}}`, st.id))))
	require.NoError(t, st.session.Send(st.id, &wire.Ack{Message: "ok"}))

	u := recv(t, updates)
	assert.Equal(t, wire.KindAck, u.Kind(), "only the valid update is delivered")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, StateOpen, c.State())
}

func TestOffStopsDelivery(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, _ := dial(t, addr)

	ch := c.SendStatement("many rooms { id } live")
	var mu sync.Mutex
	var removedCalls int
	removed := ch.On(EventUpdate, func(wire.Update) {
		mu.Lock()
		removedCalls++
		mu.Unlock()
	})
	kept := make(chan wire.Update, 4)
	ch.On(EventUpdate, func(u wire.Update) { kept <- u })

	st := p.next(t)
	update := &tree.TableUpdate{Path: tree.QueryPath{{Selection: "rooms"}}, Record: tree.Record{"id": 1}}

	require.NoError(t, st.session.Send(st.id, update))
	recv(t, kept)

	assert.Equal(t, 2, c.Stats().Listeners)
	assert.True(t, ch.Off(removed))
	assert.False(t, ch.Off(removed), "second Off is a no-op")
	assert.Equal(t, 1, c.Stats().Listeners)

	require.NoError(t, st.session.Send(st.id, update))
	recv(t, kept)

	// listeners run in registration order, so the removed one would
	// already have run for the second update
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, removedCalls)
}

func TestChannelMapBounded(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, _ := dial(t, addr, WithMaxChannels(2))

	first := c.SendStatement("a")
	second := c.SendStatement("b")
	third := c.SendStatement("c")

	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatal("oldest channel was not closed")
	}
	assert.Nil(t, chanClosed(second.Done()))
	assert.Nil(t, chanClosed(third.Done()))

	stats := c.Stats()
	assert.Equal(t, 2, stats.OpenChannels)
	assert.Equal(t, uint64(1), stats.Evicted)

	st := p.next(t)
	require.Equal(t, 0, st.id)
	p.next(t)
	p.next(t)
	require.NoError(t, st.session.Send(0, &wire.Ack{Message: "late"}))
	assert.Eventually(t, func() bool { return c.Stats().Unroutable == 1 }, waitFor, 10*time.Millisecond)
}

func TestChannelClose(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, _ := dial(t, addr)

	ch := c.SendStatement("many rooms { id } live")
	st := p.next(t)
	ch.Close()
	ch.Close()

	assert.Equal(t, 0, c.Stats().OpenChannels)
	require.NoError(t, st.session.Send(st.id, &wire.Ack{Message: "late"}))
	assert.Eventually(t, func() bool { return c.Stats().Unroutable == 1 }, waitFor, 10*time.Millisecond)
}

func chanClosed(ch <-chan struct{}) error {
	select {
	case <-ch:
		return fmt.Errorf("closed")
	default:
		return nil
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "ws://" + addr + "/ws"
}

func TestConnectionFailureLifecycle(t *testing.T) {
	addr := freeAddr(t)
	log, _ := quietLogger()

	var mu sync.Mutex
	var events []EventType
	var failure error
	closed := make(chan struct{})

	c := Open(addr,
		WithLogger(log),
		WithDialTimeout(2*time.Second),
		WithEventHandler(EventError, func(err error) {
			mu.Lock()
			events = append(events, EventError)
			failure = err
			mu.Unlock()
		}),
		WithEventHandler(EventClose, func(error) {
			mu.Lock()
			events = append(events, EventClose)
			mu.Unlock()
			close(closed)
		}),
	)
	ch := c.SendStatement("many rooms { id }")

	recv(t, closed)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventError, EventClose}, events)
	assert.True(t, errors.Is(failure, errors.ErrCodeConnectionFailed))
	assert.Equal(t, StateClosed, c.State())
	assert.Error(t, chanClosed(ch.Done()), "pending channels close with the connection")

	_, err := Dial(context.Background(), addr, WithLogger(log))
	assert.True(t, errors.Is(err, errors.ErrCodeConnectionFailed))
}

func TestCloseLifecycle(t *testing.T) {
	_, addr := startServer(t, newPending())
	c, _ := dial(t, addr)

	var closes int
	var mu sync.Mutex
	c.On(EventClose, func(err error) {
		assert.NoError(t, err)
		mu.Lock()
		closes++
		mu.Unlock()
	})
	c.On(EventError, func(err error) {
		t.Errorf("unexpected error event: %v", err)
	})

	ch := c.SendStatement("many rooms { id } live")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Error(t, chanClosed(ch.Done()))
	assert.Error(t, chanClosed(c.Done()))
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, c.Err())

	late := c.SendStatement("many rooms { id }")
	assert.Error(t, chanClosed(late.Done()), "statements on a closed connection get a closed channel")
	assert.Equal(t, 1, late.ID())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closes)
}

func TestServerDropSurfacesError(t *testing.T) {
	p := newPending()
	_, addr := startServer(t, p)
	c, _ := dial(t, addr)

	errs := make(chan error, 1)
	c.On(EventError, func(err error) { errs <- err })

	c.SendStatement("many rooms { id }")
	st := p.next(t)
	st.session.Close()

	err := recv(t, errs)
	assert.True(t, errors.Is(err, errors.ErrCodeConnectionClosed), "got %v", err)
	recv(t, c.Done())

	_, qerr := c.Query(context.Background(), "many rooms { id }")
	assert.True(t, errors.Is(qerr, errors.ErrCodeConnectionClosed), "got %v", qerr)
}

func TestWriteFailureEndsConnectionOnce(t *testing.T) {
	_, addr := startServer(t, newPending())
	c, _ := dial(t, addr)

	var mu sync.Mutex
	var events []string
	var got error
	c.On(EventError, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, "error")
		got = err
	})
	closed := make(chan struct{})
	c.On(EventClose, func(error) {
		mu.Lock()
		events = append(events, "close")
		mu.Unlock()
		close(closed)
	})

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	c.failWrite(ws, io.ErrClosedPipe)
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"error", "close"}, events)
	assert.True(t, errors.Is(got, errors.ErrCodeConnectionClosed), "got %v", got)
	assert.ErrorIs(t, got, io.ErrClosedPipe)
	assert.Equal(t, got, c.Err())
}

func TestQueryContextCancel(t *testing.T) {
	_, addr := startServer(t, newPending())
	c, _ := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Query(ctx, "many rooms { id }")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Stats().OpenChannels)
}

func TestLiveQueryAppliesUpdates(t *testing.T) {
	demo := mockserver.NewDemo()
	_, addr := startServer(t, demo)
	c, _ := dial(t, addr)

	storeLog, _ := quietLogger()
	store := tree.NewStore(tree.WithLogger(storeLog))
	changes := make(chan tree.Tree, 8)
	store.OnTreeChanged(func(t tree.Tree) { changes <- t })

	lq := c.Live("many rooms { id, name, messages: many messages { id, body } } live", store)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, lq.Ready(ctx))

	initial := recv(t, changes)
	require.Len(t, initial, 2)
	assert.Len(t, initial[0]["messages"], 2)

	demo.Tick()
	afterInsert := recv(t, changes)
	msgs := afterInsert[0]["messages"].(tree.Tree)
	require.Len(t, msgs, 3)
	assert.Equal(t, "message 3", msgs[2]["body"])
	assert.Len(t, initial[0]["messages"], 2, "earlier snapshots are not mutated")

	demo.Tick()
	afterRename := recv(t, changes)
	assert.Equal(t, "room-2", afterRename[1]["name"])
	assert.Len(t, afterRename[1]["messages"], 0, "shallow merge keeps untouched fields")

	assert.Equal(t, uint64(3), store.Stats().Applied)

	lq.Close()
	assert.Error(t, chanClosed(lq.Channel().Done()))
}

func TestLiveQueryRejected(t *testing.T) {
	_, addr := startServer(t, mockserver.NewDemo())
	c, _ := dial(t, addr)

	storeLog, _ := quietLogger()
	lq := c.Live("many nope { id } live", tree.NewStore(tree.WithLogger(storeLog)))
	err := lq.Ready(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeQueryFailed))
	assert.Equal(t, err, lq.Err())
	assert.False(t, lq.Store().Stats().Initialized)
}

func TestLiveQueryImmediateReplies(t *testing.T) {
	// The server answers inside its read loop, so replies can reach the
	// client while Live is still returning.
	_, addr := startServer(t, mockserver.HandlerFunc(func(s *mockserver.Session, id int, statement string) {
		s.Send(id, &wire.Ack{Message: "LIVE"})
		s.Send(id, &wire.QueryError{Message: "no such table"})
	}))
	c, _ := dial(t, addr)
	storeLog, _ := quietLogger()

	queries := make([]*LiveQuery, 20)
	for i := range queries {
		queries[i] = c.Live(fmt.Sprintf("many t%d { id } live", i), tree.NewStore(tree.WithLogger(storeLog)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	for i, lq := range queries {
		err := lq.Ready(ctx)
		require.True(t, errors.Is(err, errors.ErrCodeQueryFailed), "query %d: %v", i, err)
		lqErr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("many t%d { id } live", i), lqErr.Details["statement"])
		assert.Equal(t, i, lq.Channel().ID())
	}
}

func TestLiveOnClosedConnection(t *testing.T) {
	_, addr := startServer(t, newPending())
	c, _ := dial(t, addr)
	require.NoError(t, c.Close())

	storeLog, _ := quietLogger()
	lq := c.Live("many rooms { id } live", tree.NewStore(tree.WithLogger(storeLog)))
	require.NotNil(t, lq.Channel())
	assert.Error(t, lq.Ready(context.Background()))
	lq.Close()
}

func TestIsLive(t *testing.T) {
	tests := map[string]bool{
		"many rooms { id } live":   true,
		"many rooms { id } LIVE;":  true,
		"many rooms { id }\nlive ": true,
		"many rooms { id }":        false,
		"many delivered { id }":    false,
		"":                         false,
	}
	for stmt, want := range tests {
		assert.Equal(t, want, IsLive(stmt), stmt)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.PingInterval = config.Duration(15 * time.Second)
	cfg.Server.PongWait = config.Duration(45 * time.Second)
	cfg.Channels.MaxOpen = 8

	o := defaultOptions()
	for _, opt := range FromConfig(cfg) {
		opt(&o)
	}
	assert.Equal(t, 15*time.Second, o.PingInterval)
	assert.Equal(t, 45*time.Second, o.PongWait)
	assert.Equal(t, 8, o.MaxChannels)
	assert.Equal(t, config.DefaultDialTimeout, o.DialTimeout)
	assert.Equal(t, int64(config.DefaultReadLimit), o.ReadLimit)

	assert.Nil(t, FromConfig(nil))
}
