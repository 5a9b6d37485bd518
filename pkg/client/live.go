package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/pkg/tree"
	"github.com/grovetools/livequery/pkg/wire"
)

// Query sends q and waits for its initial result. The channel is closed once
// the reply arrives; use Live to keep receiving updates.
func (c *Conn) Query(ctx context.Context, q string) (*tree.InitialResult, error) {
	u, err := c.request(ctx, q)
	if err != nil {
		return nil, err
	}
	switch v := u.(type) {
	case *tree.InitialResult:
		return v, nil
	case *wire.QueryError:
		return nil, errors.QueryFailed(q, v.Message)
	default:
		return nil, errors.New(errors.ErrCodeQueryFailed,
			fmt.Sprintf("query result neither error nor initial result: got %s", u.Kind())).
			WithDetail("statement", q)
	}
}

// Exec sends a statement that is answered with an acknowledgement, such as
// an insert or a create table, and returns the acknowledgement text.
func (c *Conn) Exec(ctx context.Context, stmt string) (string, error) {
	u, err := c.request(ctx, stmt)
	if err != nil {
		return "", err
	}
	switch v := u.(type) {
	case *wire.Ack:
		return v.Message, nil
	case *wire.QueryError:
		return "", errors.QueryFailed(stmt, v.Message)
	default:
		return "", errors.New(errors.ErrCodeQueryFailed,
			fmt.Sprintf("exec result neither error nor ack: got %s", u.Kind())).
			WithDetail("statement", stmt)
	}
}

// Do sends stmt and returns its first reply whatever its kind. A server
// error reply is returned as a QUERY_FAILED error.
func (c *Conn) Do(ctx context.Context, stmt string) (wire.Update, error) {
	u, err := c.request(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if qe, ok := u.(*wire.QueryError); ok {
		return nil, errors.QueryFailed(stmt, qe.Message)
	}
	return u, nil
}

// request sends text and returns the first reply on its channel.
func (c *Conn) request(ctx context.Context, text string) (wire.Update, error) {
	got := make(chan wire.Update, 1)
	var once sync.Once
	ch := c.statement(text, func(ch *Channel) {
		ch.On(EventUpdate, func(u wire.Update) {
			once.Do(func() { got <- u })
		})
	})
	defer ch.Close()
	return ch.wait(ctx, got)
}

// LiveQuery binds a channel to a tree store: every tree operation received
// on the channel is applied to the store in arrival order.
type LiveQuery struct {
	channel *Channel
	store   *tree.Store
	sub     Subscription

	ready     chan struct{}
	readyOnce sync.Once

	mu  sync.Mutex
	err error
}

// Live sends q and applies its updates to store.
func (c *Conn) Live(q string, store *tree.Store) *LiveQuery {
	lq := &LiveQuery{
		store: store,
		ready: make(chan struct{}),
	}
	// The channel is stored before the statement is queued, since the
	// reader may deliver the first reply before statement returns.
	c.statement(q, func(ch *Channel) {
		lq.channel = ch
		lq.sub = ch.On(EventUpdate, lq.handle)
	})
	return lq
}

func (lq *LiveQuery) handle(u wire.Update) {
	switch v := u.(type) {
	case *wire.QueryError:
		lq.fail(errors.QueryFailed(lq.channel.statement, v.Message))
	case *wire.Ack:
		lq.channel.log.WithField("ack", v.Message).Debug("ignoring ack on live channel")
	default:
		op, ok := wire.Operation(u)
		if !ok {
			return
		}
		lq.store.Apply(op)
		if op.Kind() == tree.KindInitialResult {
			lq.readyOnce.Do(func() { close(lq.ready) })
		}
	}
}

func (lq *LiveQuery) fail(err error) {
	lq.mu.Lock()
	if lq.err == nil {
		lq.err = err
	}
	lq.mu.Unlock()
	lq.readyOnce.Do(func() { close(lq.ready) })
}

// Ready waits for the initial result. It returns the server's error if the
// query was rejected, or the reason the channel closed first.
func (lq *LiveQuery) Ready(ctx context.Context) error {
	select {
	case <-lq.ready:
		return lq.Err()
	case <-lq.channel.Done():
		select {
		case <-lq.ready:
			return lq.Err()
		default:
		}
		return lq.channel.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the query error reported by the server, if any.
func (lq *LiveQuery) Err() error {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	return lq.err
}

// Channel returns the underlying channel.
func (lq *LiveQuery) Channel() *Channel { return lq.channel }

// Store returns the store the query feeds.
func (lq *LiveQuery) Store() *tree.Store { return lq.store }

// Close stops applying updates and closes the channel.
func (lq *LiveQuery) Close() {
	lq.channel.Off(lq.sub)
	lq.channel.Close()
}

// IsLive reports whether statement ends with the LIVE modifier.
func IsLive(statement string) bool {
	fields := strings.Fields(strings.TrimRight(strings.TrimSpace(statement), ";"))
	return len(fields) > 0 && strings.EqualFold(fields[len(fields)-1], "live")
}
