// Package ws serves relay connections over WebSocket.
package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/SlashRelay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrSlowConsumer is returned by Send when the peer's queue is full. The
// connection is closed at the same time.
var ErrSlowConsumer = errors.New("ws: send queue full")

// Conn adapts a gorilla WebSocket to relay.Conn.
type Conn struct {
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	remote  string
	subject string

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	log       *slog.Logger
	closeOnce sync.Once
}

// ConnOptions tunes a single connection.
type ConnOptions struct {
	SendBuffer    int
	MaxFrameBytes int64
	WriteWait     time.Duration
	PongWait      time.Duration
	Subject       string
	Logger        *slog.Logger
}

// NewConn wraps ws and starts its writer goroutine.
func NewConn(ws *websocket.Conn, opts ConnOptions) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = writeWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = pongWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Conn{
		ws:         ws,
		send:       make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		remote:     ws.RemoteAddr().String(),
		subject:    opts.Subject,
		writeWait:  opts.WriteWait,
		pongWait:   opts.PongWait,
		pingPeriod: (opts.PongWait * 9) / 10,
		log:        opts.Logger,
	}

	if opts.MaxFrameBytes > 0 {
		ws.SetReadLimit(opts.MaxFrameBytes)
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	go c.writePump()
	return c
}

// Send queues payload for delivery without blocking.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return relay.ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("closing slow consumer", "remote", c.remote)
		c.abort()
		return ErrSlowConsumer
	}
}

// Receive blocks until the next text frame arrives.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, relay.ErrConnClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// Close stops the connection. The writer goroutine sends the close frame and
// releases the socket, so Close never waits on the network.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// abort drops the socket without a close frame. A write blocked on the peer
// fails at once.
func (c *Conn) abort() {
	_ = c.Close()
	_ = c.ws.Close()
}

func (c *Conn) RemoteAddr() string { return c.remote }

// Subject returns the verified token subject, if any.
func (c *Conn) Subject() string { return c.subject }

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write frame", "remote", c.remote, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
