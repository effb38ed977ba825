// Package server wires the relay core to its transports, storage, bus, and
// administrative HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fenggwsx/SlashRelay/internal/auth"
	"github.com/fenggwsx/SlashRelay/internal/bus"
	"github.com/fenggwsx/SlashRelay/internal/config"
	"github.com/fenggwsx/SlashRelay/internal/metrics"
	"github.com/fenggwsx/SlashRelay/internal/relay"
	"github.com/fenggwsx/SlashRelay/internal/storage"
	"github.com/fenggwsx/SlashRelay/internal/transport/tcp"
	"github.com/fenggwsx/SlashRelay/internal/transport/ws"
)

// App coordinates network listeners, connection lifecycle, and room routing.
type App struct {
	cfg      config.ServerConfig
	log      *slog.Logger
	store    storage.Store
	bus      bus.Bus
	registry *prometheus.Registry
	metrics  *metrics.Relay
	manager  *relay.Manager
	handler  http.Handler
}

// NewApp constructs a server instance using the provided dependencies. store
// and b may be nil to run without persistence or federation.
func NewApp(cfg config.ServerConfig, log *slog.Logger, store storage.Store, b bus.Bus) (*App, error) {
	policy, err := relay.ParseEmptyRoomPolicy(cfg.EmptyRooms)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	opts := relay.Options{
		EmptyRooms:  policy,
		SingleRoom:  cfg.SingleRoom,
		HookTimeout: cfg.WriteTimeout,
		Logger:      log,
		Metrics:     m,
	}
	if store != nil {
		history := storage.NewHistory(store)
		opts.Persistence = history
		if cfg.RequireKnownRooms {
			opts.Admission = history.KnownRoom
		}
	}
	if b != nil {
		opts.Publisher = b
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		bus:      b,
		registry: registry,
		metrics:  m,
		manager:  relay.NewManager(opts),
	}
	a.handler = a.routes()
	return a, nil
}

// Handler returns the HTTP surface: WebSocket endpoint, admin API, health
// and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Manager exposes the relay core, mainly for tests.
func (a *App) Manager() *relay.Manager { return a.manager }

// Run serves until ctx is canceled or a listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.store != nil {
		if err := a.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("http listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	if a.cfg.TCPAddr != "" {
		listener := tcp.NewListener(a.cfg.TCPAddr, a.manager, tcp.ConnOptions{
			SendBuffer:    a.cfg.SendBuffer,
			MaxFrameBytes: a.cfg.MaxFrameBytes,
			ReadTimeout:   a.cfg.ReadTimeout,
			WriteTimeout:  a.cfg.WriteTimeout,
			Logger:        a.log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("tcp: %w", err)
			}
		}()
	}

	if a.bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.bus.Subscribe(runCtx, func(roomID string, payload []byte) {
				a.manager.Deliver(roomID, payload)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("bus: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	a.log.Info("shutting down")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "err", err)
	}
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("relay shutdown", "err", err)
	}
	wg.Wait()
	return runErr
}

func (a *App) wsHandler() http.Handler {
	opts := ws.HandlerOptions{
		SendBuffer:    a.cfg.SendBuffer,
		MaxFrameBytes: int64(a.cfg.MaxFrameBytes),
		WriteTimeout:  a.cfg.WriteTimeout,
		RequireAuth:   a.cfg.JWT.RequireAuth,
		Logger:        a.log,
	}
	if a.cfg.JWT.Enabled() {
		opts.Authenticate = auth.NewAuthenticator(a.cfg.JWT)
	}
	return ws.NewHandler(a.manager, opts)
}
