package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/fenggwsx/SlashRelay/internal/relay"
)

// Server runs an accepted connection until it closes.
type Server interface {
	Serve(ctx context.Context, conn relay.Conn) error
}

// Listener accepts TCP sockets and hands them to a relay server.
type Listener struct {
	addr      string
	server    Server
	opts      ConnOptions
	log       *slog.Logger
	mu        sync.Mutex
	listener  net.Listener
	ready     chan struct{}
	closeOnce sync.Once
}

// NewListener prepares a listener bound to addr once Run is called.
func NewListener(addr string, server Server, opts ConnOptions) *Listener {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{
		addr:   addr,
		server: server,
		opts:   opts,
		log:    opts.Logger,
		ready:  make(chan struct{}),
	}
}

// Run starts accepting connections until the context is canceled.
func (l *Listener) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()
	close(l.ready)
	l.log.Info("tcp listener started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		l.closeOnce.Do(func() {
			_ = listener.Close()
		})
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// Addr blocks until Run has bound the socket and returns its address.
func (l *Listener) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listener.Addr(), nil
}

func (l *Listener) handleConnection(ctx context.Context, socket net.Conn) {
	conn := NewConn(socket, l.opts)
	if err := l.server.Serve(ctx, conn); err != nil {
		l.log.Debug("tcp session ended", "remote", conn.RemoteAddr(), "err", err)
	}
}
