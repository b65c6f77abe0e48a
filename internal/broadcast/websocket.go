package broadcast

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	WriteTimeout = 10 * time.Second
	PingInterval = 30 * time.Second
	PongTimeout  = 60 * time.Second
	readLimit    = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errClosed = errors.New("subscriber closed")

// WSSubscriber is a Subscriber backed by a websocket connection. Writes are
// serialized; gorilla allows one concurrent writer.
type WSSubscriber struct {
	id   string
	conn *websocket.Conn

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
}

func (s *WSSubscriber) ID() string { return s.id }

func (s *WSSubscriber) Send(ctx context.Context, msg []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	deadline := time.Now().Add(WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *WSSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wmu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.wmu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the subscriber has been closed.
func (s *WSSubscriber) Done() <-chan struct{} { return s.done }

// Serve keeps the connection alive until the peer leaves, the subscriber is
// closed, or ctx ends. Inbound messages are read and discarded.
func (s *WSSubscriber) Serve(ctx context.Context) error {
	go s.pingLoop(ctx)

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
	}
}

func (s *WSSubscriber) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.wmu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.wmu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}

// ServeWS upgrades the request, registers the subscriber under symbol
// (empty for the global feed) and blocks until it goes away.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request, symbol string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	sub := NewWSSubscriber(conn)
	m.Connect(sub, symbol)
	defer m.Disconnect(sub, symbol)

	if err := sub.Serve(r.Context()); err != nil {
		m.log.Debug().Err(err).Str("subscriber", sub.ID()).Msg("websocket read ended")
	}
}
