package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBroken = errors.New("broken pipe")

type fakeConn struct {
	addr    string
	subject string

	mu      sync.Mutex
	sent    []string
	sendErr error

	inbox     chan []byte
	failWith  chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:     addr,
		inbox:    make(chan []byte, 16),
		failWith: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, string(payload))
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbox:
		return frame, nil
	case err := <-c.failWith:
		return nil, err
	case <-c.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Subject() string { return c.subject }

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}
