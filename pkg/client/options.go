package client

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/config"
)

// Options configures a Conn. Zero values mean "use the default".
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings when non-zero.
	PingInterval time.Duration
	// PongWait is the read deadline refreshed by each pong. Ignored unless
	// PingInterval is set.
	PongWait time.Duration
	// ReadLimit bounds the size of one inbound frame.
	ReadLimit int64
	// MaxChannels bounds the channel map. Registering past it evicts the
	// oldest channel. Zero means unbounded.
	MaxChannels int
	Header      http.Header
	Dialer      *websocket.Dialer
	Logger      *logrus.Entry

	handlers []pendingHandler
}

type pendingHandler struct {
	event EventType
	fn    func(error)
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		DialTimeout:  config.DefaultDialTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		ReadLimit:    config.DefaultReadLimit,
		MaxChannels:  config.DefaultMaxChannels,
	}
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) { o.DialTimeout = d }
}

// WithWriteTimeout sets the deadline for each outbound frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) { o.WriteTimeout = d }
}

// WithKeepalive enables ping frames every interval and fails the connection
// when no pong arrives within wait.
func WithKeepalive(interval, wait time.Duration) Option {
	return func(o *Options) {
		o.PingInterval = interval
		o.PongWait = wait
	}
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *Options) { o.ReadLimit = n }
}

// WithMaxChannels bounds the number of open channels.
func WithMaxChannels(n int) Option {
	return func(o *Options) { o.MaxChannels = n }
}

// WithHeader adds HTTP headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(o *Options) { o.Header = h }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

// WithLogger replaces the "client" component logger.
func WithLogger(l *logrus.Entry) Option {
	return func(o *Options) { o.Logger = l }
}

// WithEventHandler registers a lifecycle listener before dialing starts, so
// an early open or error cannot be missed.
func WithEventHandler(event EventType, fn func(error)) Option {
	return func(o *Options) {
		o.handlers = append(o.handlers, pendingHandler{event: event, fn: fn})
	}
}

// FromConfig converts the server and channels sections of cfg to options.
func FromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	s := cfg.Server
	opts := []Option{
		WithMaxChannels(cfg.Channels.MaxOpen),
	}
	if s.DialTimeout > 0 {
		opts = append(opts, WithDialTimeout(s.DialTimeout.Std()))
	}
	if s.WriteTimeout > 0 {
		opts = append(opts, WithWriteTimeout(s.WriteTimeout.Std()))
	}
	if s.ReadLimit > 0 {
		opts = append(opts, WithReadLimit(s.ReadLimit))
	}
	if s.PingInterval > 0 {
		opts = append(opts, WithKeepalive(s.PingInterval.Std(), s.PongWait.Std()))
	}
	return opts
}
