// Package relay keeps connections, rooms, and message fan-out for the
// real-time relay.
//
// A transport accepts a socket, wraps it in a Conn, and hands it to
// Manager.Serve. From then on the manager owns the connection: every inbound
// frame goes through the Router, and when the socket goes away the connection
// is removed from every room and from the Registry before Serve returns.
package relay

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by Conn.Send after the connection was closed.
var ErrConnClosed = errors.New("relay: connection closed")

// Conn is the capability set the relay needs from a transport.
//
// Send must not block on the network; transports queue the payload and
// write it from their own goroutine. Receive blocks until the next inbound
// frame and returns an error once the socket is unusable. Implementations
// must be comparable, pointer receivers are the usual choice.
type Conn interface {
	Send(payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Identified is implemented by connections whose transport attached an
// identity before handing them to the relay.
type Identified interface {
	Subject() string
}

func subjectOf(c Conn) string {
	if id, ok := c.(Identified); ok {
		return id.Subject()
	}
	return ""
}
