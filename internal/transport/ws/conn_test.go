package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashRelay/internal/relay"
)

func acceptOne(t *testing.T, opts ConnOptions) (*Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		opts.Logger = quietLogger()
		accepted <- NewConn(socket, opts)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil, nil
	}
}

func TestConnSendAndReceive(t *testing.T) {
	conn, client := acceptOne(t, ConnOptions{})

	require.NoError(t, conn.Send([]byte("hello")))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("frame")))
	got, err := conn.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "frame", string(got))
}

func TestConnSendAfterClose(t *testing.T) {
	conn, _ := acceptOne(t, ConnOptions{})

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")
	assert.ErrorIs(t, conn.Send([]byte("late")), relay.ErrConnClosed)

	_, err := conn.Receive(context.Background())
	assert.ErrorIs(t, err, relay.ErrConnClosed)
}

func TestConnReceiveHonoursContext(t *testing.T) {
	conn, _ := acceptOne(t, ConnOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := conn.Receive(ctx)
		errs <- err
	}()
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return")
	}
}

func TestConnReceiveReportsPeerClose(t *testing.T) {
	conn, client := acceptOne(t, ConnOptions{})

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, client.WriteMessage(websocket.CloseMessage, msg))

	_, err := conn.Receive(context.Background())
	assert.Error(t, err)
}

func TestConnReadLimit(t *testing.T) {
	conn, client := acceptOne(t, ConnOptions{MaxFrameBytes: 8})

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("way past the limit")))

	_, err := conn.Receive(context.Background())
	assert.Error(t, err)
}

func TestConnSlowConsumerClosedWithoutStallingBroadcast(t *testing.T) {
	slow, _ := acceptOne(t, ConnOptions{SendBuffer: 1, WriteWait: 3 * time.Second})
	healthy, client := acceptOne(t, ConnOptions{})

	dir := relay.NewDirectory(relay.EmptyRoomsDelete)
	dir.Join("flood", slow)
	dir.Join("calm", healthy)

	payload := make([]byte, 1<<20)
	dropped := false
	for i := 0; i < 256 && !dropped; i++ {
		start := time.Now()
		_, failed := dir.Broadcast("flood", payload, nil)
		require.Less(t, time.Since(start).Milliseconds(), int64(500), "broadcast %d blocked", i)
		dropped = failed > 0
	}
	require.True(t, dropped, "peer that never reads must overflow its queue")

	assert.ErrorIs(t, slow.Send([]byte("late")), relay.ErrConnClosed)
	errs := make(chan error, 1)
	go func() {
		_, err := slow.Receive(context.Background())
		errs <- err
	}()
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer socket was not released")
	}

	delivered, failed := dir.Broadcast("calm", []byte("still here"), nil)
	assert.Equal(t, 1, delivered)
	assert.Zero(t, failed)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "still here", string(data))
}

func TestConnCloseDoesNotWaitOnBlockedWriter(t *testing.T) {
	conn, _ := acceptOne(t, ConnOptions{SendBuffer: 4, WriteWait: 3 * time.Second})

	payload := make([]byte, 1<<20)
	for i := 0; i < 16; i++ {
		if conn.Send(payload) != nil {
			break
		}
	}

	start := time.Now()
	require.NoError(t, conn.Close())
	assert.Less(t, time.Since(start).Milliseconds(), int64(100))
}
