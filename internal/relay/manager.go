package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fenggwsx/SlashRelay/internal/metrics"
)

// ErrShuttingDown is returned by Serve once Shutdown has started.
var ErrShuttingDown = errors.New("relay: shutting down")

// Options configures a Manager and its Router.
type Options struct {
	EmptyRooms  EmptyRoomPolicy
	SingleRoom  bool
	Admission   Admission
	Persistence Persistence
	Publisher   Publisher
	HookTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Relay
}

func (o Options) withDefaults() Options {
	if o.Admission == nil {
		o.Admission = AdmitAll
	}
	if o.HookTimeout <= 0 {
		o.HookTimeout = defaultHookTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Manager owns accepted connections for their whole life and guarantees
// that a closed connection is no longer reachable from any room.
type Manager struct {
	directory *Directory
	registry  *Registry
	router    *Router
	log       *slog.Logger
	metrics   *metrics.Relay

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// NewManager constructs a manager with its own directory and registry.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	directory := NewDirectory(opts.EmptyRooms)
	registry := NewRegistry()
	return &Manager{
		directory: directory,
		registry:  registry,
		router:    NewRouter(directory, registry, opts),
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

func (m *Manager) Directory() *Directory { return m.directory }
func (m *Manager) Registry() *Registry   { return m.registry }

// Serve runs conn until its socket closes or fails. Inbound frames are
// dispatched in arrival order. Before Serve returns, conn is closed, removed
// from every room, and unregistered.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrShuttingDown
	}
	m.sessions.Add(1)
	id := m.registry.Register(conn)
	m.mu.Unlock()
	defer m.sessions.Done()

	m.metrics.Opened()
	log := m.log.With("conn", id, "remote", conn.RemoteAddr())
	log.Info("connection opened")
	defer m.release(conn, log)

	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			if isClosure(err) {
				return nil
			}
			log.Warn("connection failed", "err", err)
			return fmt.Errorf("receive: %w", err)
		}
		m.router.Dispatch(ctx, conn, frame)
	}
}

func (m *Manager) release(conn Conn, log *slog.Logger) {
	_ = conn.Close()
	rooms := m.directory.LeaveAll(conn)
	m.registry.UnregisterConn(conn)
	m.metrics.Closed()
	total, _ := m.directory.Stats()
	m.metrics.SetRooms(total)
	log.Info("connection closed", "rooms", rooms)
}

// Deliver fans payload out to every local member of roomID. It is used for
// messages relayed by other instances, which have no local sender.
func (m *Manager) Deliver(roomID string, payload []byte) int {
	delivered, failed := m.directory.Broadcast(roomID, payload, nil)
	m.metrics.Delivered(delivered, failed)
	return delivered
}

// Shutdown closes every registered connection and waits for their
// lifecycles to finish or for ctx to end. Serve rejects new connections
// afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	for _, info := range m.registry.Snapshot() {
		if err := m.registry.Disconnect(info.ID); err != nil && !errors.Is(err, ErrUnknownConnection) {
			m.log.Debug("close connection", "conn", info.ID, "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosure(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, ErrConnClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
