package relay

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fenggwsx/SlashRelay/internal/metrics"
	"github.com/fenggwsx/SlashRelay/internal/protocol"
)

const (
	tracerName         = "github.com/fenggwsx/SlashRelay/internal/relay"
	defaultHookTimeout = 2 * time.Second
)

// Router turns inbound frames into directory and registry operations.
type Router struct {
	directory   *Directory
	registry    *Registry
	admit       Admission
	persistence Persistence
	publisher   Publisher
	singleRoom  bool
	hookTimeout time.Duration
	log         *slog.Logger
	metrics     *metrics.Relay
	tracer      trace.Tracer
}

// NewRouter builds a router over the given directory and registry.
func NewRouter(directory *Directory, registry *Registry, opts Options) *Router {
	opts = opts.withDefaults()
	return &Router{
		directory:   directory,
		registry:    registry,
		admit:       opts.Admission,
		persistence: opts.Persistence,
		publisher:   opts.Publisher,
		singleRoom:  opts.SingleRoom,
		hookTimeout: opts.HookTimeout,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
	}
}

// Dispatch handles one inbound frame from conn. Problems with the frame are
// answered on conn itself; nothing here tears the connection down.
func (r *Router) Dispatch(ctx context.Context, conn Conn, raw []byte) {
	ctx, span := r.tracer.Start(ctx, "relay.dispatch")
	defer span.End()

	env, err := protocol.Parse(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed frame")
		r.metrics.FrameError("malformed")
		r.log.Debug("malformed frame", "remote", conn.RemoteAddr(), "err", err)
		r.notify(conn, protocol.MalformedNotice(err))
		return
	}
	span.SetAttributes(
		attribute.String("relay.room", env.RoomID),
		attribute.String("relay.meta", string(env.Meta)),
	)

	switch env.Meta {
	case protocol.MetaMessage:
		r.metrics.Frame(string(env.Meta))
		r.handleMessage(ctx, conn, env)
	case protocol.MetaJoin:
		r.metrics.Frame(string(env.Meta))
		r.handleJoin(ctx, conn, env)
	case protocol.MetaLeave:
		r.metrics.Frame(string(env.Meta))
		r.handleLeave(conn, env)
	default:
		r.metrics.Frame("unknown")
		r.metrics.FrameError("unknown_operation")
		r.notify(conn, protocol.NoticeMissingOperation)
	}
}

func (r *Router) handleJoin(ctx context.Context, conn Conn, env protocol.Envelope) {
	allowed, err := r.admitJoin(ctx, conn, env.RoomID)
	if err != nil {
		r.metrics.HookFailed("admission")
		r.log.Warn("admission check failed, admitting", "room", env.RoomID, "remote", conn.RemoteAddr(), "err", err)
		allowed = true
	}
	if !allowed {
		r.metrics.FrameError("join_denied")
		r.notify(conn, protocol.NoticeJoinDenied)
		return
	}

	if r.singleRoom {
		for _, previous := range r.directory.RoomsOf(conn) {
			if previous == env.RoomID {
				continue
			}
			r.directory.Leave(previous, conn)
			r.registry.Unbind(conn, previous)
		}
	}

	added := r.directory.Join(env.RoomID, conn)
	r.registry.Register(conn)
	r.registry.Bind(conn, env.RoomID)
	r.refreshRooms()
	if added {
		r.log.Debug("joined room", "room", env.RoomID, "remote", conn.RemoteAddr())
	}
}

func (r *Router) admitJoin(ctx context.Context, conn Conn, roomID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.hookTimeout)
	defer cancel()
	return r.admit(ctx, conn, roomID)
}

func (r *Router) handleLeave(conn Conn, env protocol.Envelope) {
	if r.directory.Leave(env.RoomID, conn) {
		r.log.Debug("left room", "room", env.RoomID, "remote", conn.RemoteAddr())
	}
	r.registry.Unbind(conn, env.RoomID)
	r.refreshRooms()
}

func (r *Router) handleMessage(ctx context.Context, conn Conn, env protocol.Envelope) {
	payload := []byte(env.Body())
	delivered, failed := r.directory.Broadcast(env.RoomID, payload, conn)
	r.metrics.Delivered(delivered, failed)

	if r.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, r.hookTimeout)
		if err := r.publisher.Publish(pubCtx, env.RoomID, payload); err != nil {
			r.metrics.HookFailed("publish")
			r.log.Warn("publish message", "room", env.RoomID, "err", err)
		}
		cancel()
	}

	if r.persistence != nil {
		saveCtx, cancel := context.WithTimeout(ctx, r.hookTimeout)
		if err := r.persistence.AppendMessage(saveCtx, env.RoomID, subjectOf(conn), env.Body()); err != nil {
			r.metrics.HookFailed("persistence")
			r.log.Warn("persist message", "room", env.RoomID, "err", err)
		}
		cancel()
	}
}

func (r *Router) notify(conn Conn, notice string) {
	if err := conn.Send([]byte(notice)); err != nil {
		r.log.Debug("send notice", "remote", conn.RemoteAddr(), "err", err)
	}
}

func (r *Router) refreshRooms() {
	rooms, _ := r.directory.Stats()
	r.metrics.SetRooms(rooms)
}
