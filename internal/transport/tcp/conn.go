// Package tcp serves relay connections over length-prefixed TCP frames.
//
// A zero-length frame is invalid on this transport in both directions, so an
// empty message body cannot reach a TCP peer: Send rejects it and the
// broadcast counts it as failed for that member.
package tcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fenggwsx/SlashRelay/internal/protocol"
	"github.com/fenggwsx/SlashRelay/internal/relay"
)

// ErrSlowConsumer is returned by Send when the outbound queue is full.
var ErrSlowConsumer = errors.New("tcp: send queue full")

// Conn adapts a net.Conn to relay.Conn.
type Conn struct {
	conn    net.Conn
	decoder *protocol.Decoder
	encoder *protocol.Encoder
	sendCh  chan []byte
	done    chan struct{}
	remote  string

	readTimeout  time.Duration
	writeTimeout time.Duration

	log       *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// ConnOptions tunes a single connection.
type ConnOptions struct {
	SendBuffer    int
	MaxFrameBytes int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Logger        *slog.Logger
}

// NewConn wraps conn and starts its write loop.
func NewConn(conn net.Conn, opts ConnOptions) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &Conn{
		conn:         conn,
		decoder:      protocol.NewDecoder(conn, opts.MaxFrameBytes),
		encoder:      protocol.NewEncoder(conn),
		sendCh:       make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		remote:       remote,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		log:          opts.Logger,
	}
	go c.writeLoop()
	return c
}

// Send queues payload for the write loop without blocking. Empty payloads
// are rejected with protocol.ErrEmptyFrame.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return relay.ErrConnClosed
	default:
	}
	if len(payload) == 0 {
		return protocol.ErrEmptyFrame
	}

	select {
	case c.sendCh <- payload:
		return nil
	default:
		c.log.Warn("closing slow consumer", "remote", c.remote)
		_ = c.Close()
		return ErrSlowConsumer
	}
}

// Receive reads the next frame. A zero-length or oversize frame ends the
// connection.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	}
	frame, err := c.decoder.ReadFrame(ctx)
	if err != nil {
		select {
		case <-c.done:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, relay.ErrConnClosed
		default:
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return frame, nil
}

// Close shuts the socket down once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.sendCh:
			if c.writeTimeout > 0 {
				if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
					_ = c.Close()
					return
				}
			}
			if err := c.encoder.WriteFrame(ctx, payload); err != nil {
				c.log.Debug("write frame", "remote", c.remote, "err", err)
				_ = c.Close()
				return
			}
		}
	}
}
