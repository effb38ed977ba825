package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/SlashRelay/internal/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

// Transport is what the UI needs from a live connection.
type Transport interface {
	Send(env protocol.Envelope) error
	Frames() <-chan string
	Err() error
	Close() error
}

// Session manages the client side of one WebSocket connection.
type Session struct {
	conn      *websocket.Conn
	frames    chan string
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects to url, attaching token as a bearer credential when set.
func Dial(ctx context.Context, url, token string) (Transport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	s := &Session{
		conn:   conn,
		frames: make(chan string, 32),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Send encodes env and writes it as one text frame.
func (s *Session) Send(env protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// Frames yields inbound text frames and is closed when the socket ends.
func (s *Session) Frames() <-chan string { return s.frames }

// Err reports why the socket ended, nil for a local close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close terminates the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.errMu.Lock()
					s.err = err
					s.errMu.Unlock()
				}
			}
			return
		}
		select {
		case s.frames <- string(data):
		case <-s.done:
			return
		}
	}
}

var errNotConnected = errors.New("not connected")
