package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashRelay/internal/metrics"
	"github.com/fenggwsx/SlashRelay/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedMessage struct {
	room, sender, body string
}

type memoryHooks struct {
	mu        sync.Mutex
	saved     []recordedMessage
	published []recordedMessage
	saveErr   error
}

func (h *memoryHooks) AppendMessage(_ context.Context, roomID, sender, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.saveErr != nil {
		return h.saveErr
	}
	h.saved = append(h.saved, recordedMessage{room: roomID, sender: sender, body: body})
	return nil
}

func (h *memoryHooks) Publish(_ context.Context, roomID string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, recordedMessage{room: roomID, body: string(payload)})
	return nil
}

type routerFixture struct {
	router    *Router
	directory *Directory
	registry  *Registry
	metrics   *metrics.Relay
}

func newRouterFixture(opts Options) routerFixture {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	d := NewDirectory(opts.EmptyRooms)
	r := NewRegistry()
	return routerFixture{
		router:    NewRouter(d, r, opts),
		directory: d,
		registry:  r,
		metrics:   opts.Metrics,
	}
}

func (f routerFixture) send(c Conn, frame string) {
	f.router.Dispatch(context.Background(), c, []byte(frame))
}

func TestRouterMessageReachesOtherMembersOnly(t *testing.T) {
	f := newRouterFixture(Options{})
	a, b := newFakeConn("a"), newFakeConn("b")

	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"join"}`)
	f.send(a, `{"roomId":"r1","meta":"message","message":"hi"}`)

	assert.Equal(t, []string{"hi"}, b.Sent())
	assert.Empty(t, a.Sent())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Deliveries))
}

func TestRouterUnknownMetaRepliesMissingOperation(t *testing.T) {
	f := newRouterFixture(Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"join"}`)

	f.send(a, `{"roomId":"r1","meta":"bogus"}`)

	assert.Equal(t, []string{protocol.NoticeMissingOperation}, a.Sent())
	assert.Empty(t, b.Sent())
	assert.True(t, f.directory.IsMember("r1", a))
	assert.True(t, f.directory.IsMember("r1", b))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.FrameErrors.WithLabelValues("unknown_operation")))
}

func TestRouterMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{name: "not json", frame: `hello`, want: "Malformed frame: invalid json"},
		{name: "empty", frame: `   `, want: "Malformed frame: empty frame"},
		{name: "no room", frame: `{"meta":"join"}`, want: "Malformed frame: missing roomId"},
		{name: "message without body", frame: `{"roomId":"r1","meta":"message"}`, want: "Malformed frame: missing message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(Options{})
			a := newFakeConn("a")

			f.send(a, tt.frame)

			assert.Equal(t, []string{tt.want}, a.Sent())
			assert.Empty(t, f.directory.Rooms())
		})
	}
}

func TestRouterJoinTwiceKeepsOneMembership(t *testing.T) {
	f := newRouterFixture(Options{})
	a, b := newFakeConn("a"), newFakeConn("b")

	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"message","message":"once"}`)

	assert.Equal(t, []string{"once"}, a.Sent())
	assert.Len(t, f.directory.Members("r1"), 2)
}

func TestRouterLeaveStopsDelivery(t *testing.T) {
	f := newRouterFixture(Options{})
	a, b := newFakeConn("a"), newFakeConn("b")
	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"join"}`)

	f.send(b, `{"roomId":"r1","meta":"leave"}`)
	f.send(a, `{"roomId":"r1","meta":"message","message":"anyone?"}`)

	assert.Empty(t, b.Sent())
	id, ok := f.registry.IDOf(b)
	require.True(t, ok, "leave keeps the correlation id")
	conn, _ := f.registry.Lookup(id)
	assert.Same(t, b, conn)
	for _, info := range f.registry.Snapshot() {
		if info.ID == id {
			assert.Empty(t, info.Rooms)
		}
	}
}

func TestRouterLeaveUnknownRoomIsSilent(t *testing.T) {
	f := newRouterFixture(Options{})
	a := newFakeConn("a")

	f.send(a, `{"roomId":"never","meta":"leave"}`)

	assert.Empty(t, a.Sent())
	assert.Empty(t, f.directory.Rooms())
}

func TestRouterMessageToEmptyRoomIsNoop(t *testing.T) {
	f := newRouterFixture(Options{})
	a := newFakeConn("a")

	f.send(a, `{"roomId":"ghost","meta":"message","message":"echo?"}`)

	assert.Empty(t, a.Sent())
	assert.Empty(t, f.directory.Rooms())
}

func TestRouterSingleRoomSwitchesRooms(t *testing.T) {
	f := newRouterFixture(Options{SingleRoom: true})
	a, b := newFakeConn("a"), newFakeConn("b")
	f.send(b, `{"roomId":"r1","meta":"join"}`)

	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(a, `{"roomId":"r2","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"message","message":"left behind"}`)

	assert.Empty(t, a.Sent())
	assert.Equal(t, []string{"r2"}, f.directory.RoomsOf(a))
	id, _ := f.registry.IDOf(a)
	for _, info := range f.registry.Snapshot() {
		if info.ID == id {
			assert.Equal(t, []string{"r2"}, info.Rooms)
		}
	}
}

func TestRouterMultiRoomKeepsMemberships(t *testing.T) {
	f := newRouterFixture(Options{SingleRoom: false})
	a := newFakeConn("a")

	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(a, `{"roomId":"r2","meta":"join"}`)

	assert.Equal(t, []string{"r1", "r2"}, f.directory.RoomsOf(a))
}

func TestRouterAdmission(t *testing.T) {
	deny := func(_ context.Context, _ Conn, roomID string) (bool, error) {
		return roomID != "private", nil
	}

	t.Run("denied", func(t *testing.T) {
		f := newRouterFixture(Options{Admission: deny})
		a := newFakeConn("a")

		f.send(a, `{"roomId":"private","meta":"join"}`)

		assert.Equal(t, []string{protocol.NoticeJoinDenied}, a.Sent())
		assert.False(t, f.directory.IsMember("private", a))
	})

	t.Run("allowed", func(t *testing.T) {
		f := newRouterFixture(Options{Admission: deny})
		a := newFakeConn("a")

		f.send(a, `{"roomId":"public","meta":"join"}`)

		assert.Empty(t, a.Sent())
		assert.True(t, f.directory.IsMember("public", a))
	})

	t.Run("error admits", func(t *testing.T) {
		failing := func(context.Context, Conn, string) (bool, error) {
			return false, errors.New("store offline")
		}
		f := newRouterFixture(Options{Admission: failing})
		a := newFakeConn("a")

		f.send(a, `{"roomId":"r1","meta":"join"}`)

		assert.True(t, f.directory.IsMember("r1", a))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.HookFailures.WithLabelValues("admission")))
	})
}

func TestRouterPersistsAndPublishesMessages(t *testing.T) {
	hooks := &memoryHooks{}
	f := newRouterFixture(Options{Persistence: hooks, Publisher: hooks})
	a := newFakeConn("a")
	a.subject = "alice"

	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(a, `{"roomId":"r1","meta":"message","message":"saved"}`)

	assert.Equal(t, []recordedMessage{{room: "r1", sender: "alice", body: "saved"}}, hooks.saved)
	assert.Equal(t, []recordedMessage{{room: "r1", body: "saved"}}, hooks.published)
}

func TestRouterPersistenceFailureStillDelivers(t *testing.T) {
	hooks := &memoryHooks{saveErr: errors.New("disk full")}
	f := newRouterFixture(Options{Persistence: hooks})
	a, b := newFakeConn("a"), newFakeConn("b")
	f.send(a, `{"roomId":"r1","meta":"join"}`)
	f.send(b, `{"roomId":"r1","meta":"join"}`)

	f.send(a, `{"roomId":"r1","meta":"message","message":"still here"}`)

	assert.Equal(t, []string{"still here"}, b.Sent())
	assert.Empty(t, a.Sent())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.HookFailures.WithLabelValues("persistence")))
}
