package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/SlashRelay/internal/auth"
	"github.com/fenggwsx/SlashRelay/internal/relay"
)

// Server runs an accepted connection until it closes.
type Server interface {
	Serve(ctx context.Context, conn relay.Conn) error
}

// HandlerOptions configures the upgrade endpoint.
type HandlerOptions struct {
	SendBuffer    int
	MaxFrameBytes int64
	WriteTimeout  time.Duration
	PongWait      time.Duration
	// Authenticate, when set, verifies the bearer token and yields the
	// connection subject.
	Authenticate auth.Authenticator
	// RequireAuth rejects upgrades without a valid token.
	RequireAuth bool
	// CheckOrigin overrides the upgrader origin policy. Nil allows all.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// Handler upgrades HTTP requests and hands the resulting connections to a
// relay server.
type Handler struct {
	server   Server
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      *slog.Logger
}

// NewHandler builds the upgrade endpoint.
func NewHandler(server Server, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		server: server,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		opts: opts,
		log:  opts.Logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.authenticate(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := NewConn(socket, ConnOptions{
		SendBuffer:    h.opts.SendBuffer,
		MaxFrameBytes: h.opts.MaxFrameBytes,
		WriteWait:     h.opts.WriteTimeout,
		PongWait:      h.opts.PongWait,
		Subject:       subject,
		Logger:        h.log,
	})
	if err := h.server.Serve(r.Context(), conn); err != nil {
		h.log.Debug("websocket session ended", "remote", conn.RemoteAddr(), "err", err)
	}
}

func (h *Handler) authenticate(r *http.Request) (string, bool) {
	if h.opts.Authenticate == nil {
		return "", !h.opts.RequireAuth
	}
	token := auth.BearerToken(r)
	if token == "" {
		return "", !h.opts.RequireAuth
	}
	subject, err := h.opts.Authenticate(token)
	if err != nil {
		h.log.Debug("reject token", "remote", r.RemoteAddr, "err", err)
		return "", !h.opts.RequireAuth
	}
	return subject, true
}
