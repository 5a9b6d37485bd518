package client

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/pkg/wire"
)

// Channel is the stream of replies to one statement.
type Channel struct {
	id        int
	statement string
	conn      *Conn
	log       *logrus.Entry
	updates   Emitter[wire.Update]

	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(c *Conn, id int, statement string) *Channel {
	return &Channel{
		id:        id,
		statement: statement,
		conn:      c,
		log:       c.log.WithField("channel", id),
		done:      make(chan struct{}),
	}
}

// On registers fn for EventUpdate. Listeners run synchronously on the
// connection's reader goroutine in registration order.
func (ch *Channel) On(event EventType, fn func(wire.Update)) Subscription {
	return ch.updates.On(event, fn)
}

// Off removes a listener.
func (ch *Channel) Off(sub Subscription) bool {
	return ch.updates.Off(sub)
}

// ID returns the channel identity.
func (ch *Channel) ID() int { return ch.id }

// Statement returns the statement text the channel was opened with.
func (ch *Channel) Statement() string { return ch.statement }

// Done is closed when the channel is closed locally, evicted, or its
// connection ends.
func (ch *Channel) Done() <-chan struct{} { return ch.done }

// Close stops delivery and forgets the channel. Frames that arrive for it
// afterwards are counted as unroutable. The server is not notified.
func (ch *Channel) Close() {
	ch.conn.removeChannel(ch.id)
	ch.markClosed()
}

func (ch *Channel) markClosed() {
	ch.closeOnce.Do(func() { close(ch.done) })
}

func (ch *Channel) closed() bool {
	select {
	case <-ch.done:
		return true
	default:
		return false
	}
}

func (ch *Channel) dispatch(msg wire.Message) {
	u, err := wire.Decode(msg)
	if err != nil {
		ch.conn.dropped.Add(1)
		ch.log.WithError(err).Warn("dropping update")
		return
	}
	if ch.closed() {
		return
	}
	ch.updates.Emit(EventUpdate, u)
}

// closedErr explains why a closed channel will deliver nothing more.
func (ch *Channel) closedErr() error {
	if err := ch.conn.Err(); err != nil {
		return err
	}
	return errors.ChannelClosed(ch.id)
}

func (ch *Channel) wait(ctx context.Context, got <-chan wire.Update) (wire.Update, error) {
	select {
	case u := <-got:
		return u, nil
	case <-ch.done:
		select {
		case u := <-got:
			return u, nil
		default:
		}
		return nil, ch.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
