package relay

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashRelay/internal/metrics"
)

func newTestManager(opts Options) (*Manager, *metrics.Relay) {
	m := metrics.New(prometheus.NewRegistry())
	opts.Logger = discardLogger()
	opts.Metrics = m
	return NewManager(opts), m
}

func serve(t *testing.T, m *Manager, c Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), c) }()
	return done
}

func TestManagerRelaysBetweenMembers(t *testing.T) {
	m, _ := newTestManager(Options{SingleRoom: true})
	a, b := newFakeConn("a"), newFakeConn("b")
	serve(t, m, a)
	serve(t, m, b)

	a.inbox <- []byte(`{"roomId":"r1","meta":"join"}`)
	b.inbox <- []byte(`{"roomId":"r1","meta":"join"}`)
	waitFor(t, func() bool { return len(m.Directory().Members("r1")) == 2 })

	a.inbox <- []byte(`{"roomId":"r1","meta":"message","message":"hi"}`)
	waitFor(t, func() bool { return len(b.Sent()) == 1 })

	assert.Equal(t, []string{"hi"}, b.Sent())
	assert.Empty(t, a.Sent())
}

func TestManagerCleansUpAfterSocketError(t *testing.T) {
	m, met := newTestManager(Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	doneA := serve(t, m, a)
	serve(t, m, b)

	a.inbox <- []byte(`{"roomId":"r1","meta":"join"}`)
	b.inbox <- []byte(`{"roomId":"r1","meta":"join"}`)
	waitFor(t, func() bool { return len(m.Directory().Members("r1")) == 2 })

	a.failWith <- errBroken

	select {
	case err := <-doneA:
		require.ErrorIs(t, err, errBroken)
	case <-time.After(time.Second):
		t.Fatal("serve did not return")
	}

	assert.False(t, m.Directory().IsMember("r1", a))
	assert.True(t, m.Directory().IsMember("r1", b))
	assert.True(t, a.isClosed())
	_, ok := m.Registry().IDOf(a)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Registry().Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ConnectionsClosed))
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ActiveConnections))

	m.Deliver("r1", []byte("after"))
	assert.Equal(t, []string{"after"}, b.Sent())
}

func TestManagerCloseRemovesEmptyRoom(t *testing.T) {
	m, _ := newTestManager(Options{EmptyRooms: EmptyRoomsDelete})
	a := newFakeConn("a")
	done := serve(t, m, a)

	a.inbox <- []byte(`{"roomId":"r1","meta":"join"}`)
	waitFor(t, func() bool { return m.Directory().IsMember("r1", a) })

	require.NoError(t, a.Close())
	require.NoError(t, <-done)

	assert.Empty(t, m.Directory().Rooms())
	assert.Zero(t, m.Registry().Len())
}

func TestManagerRegistersOnAccept(t *testing.T) {
	m, _ := newTestManager(Options{})
	a := newFakeConn("a")
	serve(t, m, a)

	waitFor(t, func() bool {
		_, ok := m.Registry().IDOf(a)
		return ok
	})
}

func TestManagerDisconnectByID(t *testing.T) {
	m, _ := newTestManager(Options{})
	a := newFakeConn("a")
	done := serve(t, m, a)

	a.inbox <- []byte(`{"roomId":"r1","meta":"join"}`)
	waitFor(t, func() bool { return m.Directory().IsMember("r1", a) })

	id, ok := m.Registry().IDOf(a)
	require.True(t, ok)
	require.NoError(t, m.Registry().Disconnect(id))
	require.NoError(t, <-done)

	assert.False(t, m.Directory().IsMember("r1", a))
}

func TestManagerShutdown(t *testing.T) {
	m, _ := newTestManager(Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	serve(t, m, a)
	serve(t, m, b)
	waitFor(t, func() bool { return m.Registry().Len() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Zero(t, m.Registry().Len())

	late := newFakeConn("late")
	assert.ErrorIs(t, m.Serve(context.Background(), late), ErrShuttingDown)
	assert.True(t, late.isClosed())
}

func TestManagerContextCancelEndsServe(t *testing.T) {
	m, _ := newTestManager(Options{})
	a := newFakeConn("a")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, a) }()
	waitFor(t, func() bool { return m.Registry().Len() == 1 })

	cancel()

	require.NoError(t, <-done)
	assert.True(t, a.isClosed())
	assert.Zero(t, m.Registry().Len())
}

func TestManagerShutdownRacingServe(t *testing.T) {
	m, _ := newTestManager(Options{})
	const n = 32
	conns := make([]*fakeConn, n)
	results := make(chan error, n)
	start := make(chan struct{})
	for i := range conns {
		conns[i] = newFakeConn("c" + strconv.Itoa(i))
		go func(c *fakeConn) {
			<-start
			results <- m.Serve(context.Background(), c)
		}(conns[i])
	}
	close(start)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err != nil {
				assert.ErrorIs(t, err, ErrShuttingDown)
			}
		case <-time.After(time.Second):
			t.Fatal("serve outlived shutdown")
		}
	}
	for _, c := range conns {
		assert.True(t, c.isClosed())
	}
	assert.Zero(t, m.Registry().Len())
}
