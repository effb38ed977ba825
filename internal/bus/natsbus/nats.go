// Package natsbus implements bus.Bus on core NATS.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fenggwsx/SlashRelay/internal/bus"
)

// Bus publishes room events on one NATS subject.
type Bus struct {
	nc      *nats.Conn
	subject string
	origin  string
	log     *slog.Logger
}

// Options configures the NATS connection.
type Options struct {
	URL     string
	Subject string
	Name    string
	Logger  *slog.Logger
}

// New connects to NATS with unlimited reconnects.
func New(opts Options) (*Bus, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewWithConn(nc, opts.Subject, log), nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(nc *nats.Conn, subject string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{nc: nc, subject: subject, origin: bus.NewOrigin(), log: log}
}

// Publish sends payload for roomID to every other instance.
func (b *Bus) Publish(_ context.Context, roomID string, payload []byte) error {
	raw, err := bus.Encode(b.origin, roomID, payload)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, raw)
}

// Subscribe invokes deliver for remote events until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, deliver bus.DeliverFunc) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		evt, remote, err := bus.Decode(b.origin, msg.Data)
		if err != nil {
			b.log.Warn("drop bus event", "err", err)
			return
		}
		if remote {
			deliver(evt.RoomID, evt.Payload)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

var _ bus.Bus = (*Bus)(nil)
