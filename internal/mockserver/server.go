// Package mockserver is a websocket query server speaking the livequery
// wire protocol. It backs the mock-server command and the client tests.
package mockserver

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/livequery/errors"
	"github.com/grovetools/livequery/logging"
	"github.com/grovetools/livequery/pkg/wire"
)

// Handler answers statements. HandleStatement runs on the session's read
// goroutine; replies may be sent from any goroutine.
type Handler interface {
	HandleStatement(s *Session, id int, statement string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session, id int, statement string)

func (f HandlerFunc) HandleStatement(s *Session, id int, statement string) {
	f(s, id, statement)
}

// Server upgrades HTTP requests to websocket sessions.
type Server struct {
	handler  Handler
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu       sync.Mutex
	sessions map[*Session]struct{}
	connect  chan *Session
}

// New creates a server dispatching statements to h.
func New(h Handler) *Server {
	return &Server{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:      logging.NewLogger("mockserver"),
		sessions: make(map[*Session]struct{}),
		connect:  make(chan *Session, 16),
	}
}

// Connected delivers each new session. Sessions are dropped from it when
// nobody is reading and the buffer is full.
func (s *Server) Connected() <-chan *Session {
	return s.connect
}

// Sessions returns the live sessions.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade failed")
		return
	}

	sess := &Session{
		conn: conn,
		log:  s.log.WithField("remote", r.RemoteAddr),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		sess.Close()
	}()

	select {
	case s.connect <- sess:
	default:
	}

	sess.log.Info("session open")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.log.WithError(err).Debug("read failed")
			}
			sess.log.Info("session closed")
			return
		}
		// Identities follow arrival order, as the client expects.
		id := sess.nextID
		sess.nextID++
		statement := string(data)
		sess.log.WithFields(logrus.Fields{"channel": id, "statement": statement}).Debug("statement")
		s.handler.HandleStatement(sess, id, statement)
	}
}

// Session is one client connection.
type Session struct {
	conn   *websocket.Conn
	log    *logrus.Entry
	nextID int

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Send encodes u as a frame on channel id.
func (s *Session) Send(id int, u wire.Update) error {
	data, err := wire.Encode(id, u)
	if err != nil {
		return err
	}
	return s.PushRaw(data)
}

// PushRaw writes data as one text frame without validation.
func (s *Session) PushRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.ConnectionClosed(s.conn.RemoteAddr().String(), nil)
	default:
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.ConnectionClosed(s.conn.RemoteAddr().String(), err)
	}
	return nil
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close drops the connection without a close handshake.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
