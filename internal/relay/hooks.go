package relay

import "context"

// Admission decides whether conn may join roomID. An error means the
// decision could not be made; the router logs it and admits the join.
type Admission func(ctx context.Context, conn Conn, roomID string) (bool, error)

// AdmitAll admits every join.
func AdmitAll(context.Context, Conn, string) (bool, error) { return true, nil }

// Persistence receives every relayed message for durable history. Failures
// are logged and never reach room members.
type Persistence interface {
	AppendMessage(ctx context.Context, roomID, sender, body string) error
}

// Publisher forwards locally relayed messages to other relay instances.
type Publisher interface {
	Publish(ctx context.Context, roomID string, payload []byte) error
}
