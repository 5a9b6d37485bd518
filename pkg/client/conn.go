// Package client multiplexes live query channels over one websocket
// connection to a query server.
package client

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/logging"
	"github.com/grovetools/livequery/pkg/wire"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats are connection counters.
type Stats struct {
	Sent         uint64
	Received     uint64
	Unroutable   uint64
	Malformed    uint64
	Dropped      uint64
	Evicted      uint64
	OpenChannels int
	// Listeners is the number of update listeners across open channels.
	Listeners int
}

// Conn is one websocket connection carrying any number of channels. Channel
// identities are assigned locally in send order starting at 0, matching the
// order in which the server numbers incoming statements.
type Conn struct {
	address string
	opts    Options
	log     *logrus.Entry
	events  Emitter[error]

	ctx    context.Context
	cancel context.CancelFunc

	// sendMu keeps identity assignment and queueing in one order.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    State
	err      error
	ws       *websocket.Conn
	nextID   int
	channels map[int]*Channel
	queue    []string
	writeErr error

	sent, received, unroutable, malformed, dropped, evicted atomic.Uint64

	wake      chan struct{}
	opened    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts connecting to address and returns immediately. Dial failures
// are reported as an EventError notification followed by EventClose.
// Statements sent before the connection opens are queued.
func Open(address string, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conn{
		address:  address,
		opts:     o,
		log:      o.Logger,
		channels: make(map[int]*Channel),
		wake:     make(chan struct{}, 1),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if c.log == nil {
		c.log = logging.NewLogger("client")
	}
	c.log = c.log.WithField("address", address)
	for _, h := range o.handlers {
		c.events.On(h.event, h.fn)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.run()
	return c
}

// Dial opens a connection and waits until it is established.
func Dial(ctx context.Context, address string, opts ...Option) (*Conn, error) {
	c := Open(address, opts...)
	select {
	case <-c.opened:
		return c, nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, errors.ConnectionClosed(address, nil)
	case <-ctx.Done():
		c.Close()
		return nil, errors.ConnectionFailed(address, ctx.Err())
	}
}

// On registers a lifecycle listener for EventOpen, EventClose or EventError.
// The error argument is nil for open and for a clean close.
func (c *Conn) On(event EventType, fn func(error)) Subscription {
	return c.events.On(event, fn)
}

// Off removes a lifecycle listener.
func (c *Conn) Off(sub Subscription) bool {
	return c.events.Off(sub)
}

// SendStatement registers a new channel for text and queues the statement.
// Listeners passed here are installed before the statement is queued, so
// they cannot miss the first reply. It never blocks on the network. On a
// closed connection the returned channel is already closed.
func (c *Conn) SendStatement(text string, listeners ...func(wire.Update)) *Channel {
	if len(listeners) == 0 {
		return c.statement(text, nil)
	}
	return c.statement(text, func(ch *Channel) {
		for _, fn := range listeners {
			ch.On(EventUpdate, fn)
		}
	})
}

// statement runs setup on the new channel before the statement is queued,
// so listeners installed there cannot miss the reply. setup also runs when
// the connection is already closed.
func (c *Conn) statement(text string, setup func(*Channel)) *Channel {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	ch := newChannel(c, c.nextID, text)
	c.nextID++
	if c.state == StateClosed {
		c.mu.Unlock()
		ch.markClosed()
		c.log.WithField("channel", ch.id).Warn("statement sent on closed connection")
		if setup != nil {
			setup(ch)
		}
		return ch
	}
	c.channels[ch.id] = ch
	var evicted *Channel
	if limit := c.opts.MaxChannels; limit > 0 && len(c.channels) > limit {
		evicted = c.evictOldestLocked()
	}
	c.mu.Unlock()

	if evicted != nil {
		c.evicted.Add(1)
		evicted.markClosed()
		c.log.WithFields(logrus.Fields{
			"channel":   evicted.id,
			"statement": evicted.statement,
		}).Warn("channel limit reached, closing oldest channel")
	}

	if setup != nil {
		setup(ch)
	}

	c.mu.Lock()
	if c.state != StateClosed {
		c.queue = append(c.queue, text)
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}

	c.log.WithFields(logrus.Fields{"channel": ch.id, "statement": text}).Debug("statement queued")
	return ch
}

func (c *Conn) evictOldestLocked() *Channel {
	oldest := -1
	for id := range c.channels {
		if oldest == -1 || id < oldest {
			oldest = id
		}
	}
	ch := c.channels[oldest]
	delete(c.channels, oldest)
	return ch
}

func (c *Conn) removeChannel(id int) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

// Close sends a close frame, stops both goroutines, closes every channel and
// emits EventClose once.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if state == StateClosed {
		return nil
	}

	var err error
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout)); werr != nil && werr != websocket.ErrCloseSent {
			err = errors.ConnectionClosed(c.address, werr)
		}
	}
	c.shutdown(nil)
	return err
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the connection, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Address returns the server URL.
func (c *Conn) Address() string { return c.address }

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	open := len(c.channels)
	listeners := 0
	for _, ch := range c.channels {
		listeners += ch.updates.Len(EventUpdate)
	}
	c.mu.Unlock()
	return Stats{
		Sent:         c.sent.Load(),
		Received:     c.received.Load(),
		Unroutable:   c.unroutable.Load(),
		Malformed:    c.malformed.Load(),
		Dropped:      c.dropped.Load(),
		Evicted:      c.evicted.Load(),
		OpenChannels: open,
		Listeners:    listeners,
	}
}

func (c *Conn) run() {
	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.opts.DialTimeout,
		}
	}

	ctx := c.ctx
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}

	c.log.Debug("dialing")
	ws, resp, err := dialer.DialContext(ctx, c.address, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.shutdown(errors.ConnectionFailed(c.address, err))
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}
	if c.opts.PingInterval > 0 && c.opts.PongWait > 0 {
		ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		})
	}

	close(c.opened)
	c.log.Info("connection open")
	c.events.Emit(EventOpen, nil)

	go c.writeLoop(ws)
	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.shutdown(c.readError(err))
			return
		}
		c.handleFrame(data)
	}
}

// failWrite records why the writer stopped and closes the socket. The
// reader's next read then fails and it ends the connection, so lifecycle
// events are only emitted from the reader goroutine.
func (c *Conn) failWrite(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.writeErr == nil {
		c.writeErr = errors.ConnectionClosed(c.address, err)
	}
	c.mu.Unlock()
	c.log.WithError(err).Debug("write failed")
	ws.Close()
}

func (c *Conn) readError(err error) error {
	c.mu.Lock()
	state, writeErr := c.state, c.writeErr
	c.mu.Unlock()
	if state == StateClosed {
		return nil
	}
	if writeErr != nil {
		return writeErr
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return errors.ConnectionClosed(c.address, err)
}

func (c *Conn) handleFrame(data []byte) {
	c.received.Add(1)
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		c.malformed.Add(1)
		c.log.WithError(err).Warn("dropping malformed frame")
		return
	}

	c.mu.Lock()
	ch := c.channels[frame.ChannelIdentity]
	c.mu.Unlock()
	if ch == nil {
		c.unroutable.Add(1)
		c.log.WithError(errors.UnroutableFrame(frame.ChannelIdentity)).Warn("dropping frame")
		return
	}
	ch.dispatch(frame.Message)
}

func (c *Conn) writeLoop(ws *websocket.Conn) {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		if err := c.flush(ws); err != nil {
			c.failWrite(ws, err)
			return
		}
		select {
		case <-c.done:
			return
		case <-c.wake:
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, c.deadline()); err != nil {
				c.failWrite(ws, err)
				return
			}
		}
	}
}

// flush writes queued statements in identity order.
func (c *Conn) flush(ws *websocket.Conn) error {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || c.state == StateClosed {
			c.mu.Unlock()
			return nil
		}
		text := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		ws.SetWriteDeadline(c.deadline())
		if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			return err
		}
		c.sent.Add(1)
	}
}

func (c *Conn) deadline() time.Time {
	if c.opts.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.WriteTimeout)
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.err = cause
		ws := c.ws
		channels := c.channels
		c.channels = make(map[int]*Channel)
		c.queue = nil
		c.mu.Unlock()

		c.cancel()
		close(c.done)
		if ws != nil {
			ws.Close()
		}

		ids := make([]int, 0, len(channels))
		for id := range channels {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			channels[id].markClosed()
		}

		if cause != nil {
			c.log.WithError(cause).Error("connection failed")
			c.events.Emit(EventError, cause)
		} else {
			c.log.Info("connection closed")
		}
		c.events.Emit(EventClose, cause)
	})
}
