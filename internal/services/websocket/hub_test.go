package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"droneaid/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*HubService, string) {
	t.Helper()
	hub := NewHubService(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := hub.Register(conn); err != nil {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				hub.Unregister(conn)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHub_BroadcastReachesViewers(t *testing.T) {
	hub, url := startHub(t)

	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer b.Close()

	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"overlay.clear"}`))

	for _, c := range []*websocket.Conn{a, b} {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := c.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"overlay.clear"}`, string(msg))
	}
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, url := startHub(t)

	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHubService(logger.Nop())
	// Not running: the queue fills and further messages are dropped.
	for i := 0; i < 100; i++ {
		hub.Broadcast([]byte("x"))
	}
	assert.Equal(t, uint64(36), hub.Dropped())
}

func TestHub_PublishSurvivesFullQueue(t *testing.T) {
	hub := NewHubService(logger.Nop())

	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	viewer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer viewer.Close()

	// Attach the viewer before the hub runs so nothing is written early.
	hub.clients[<-conns] = true

	for i := 0; i < 100; i++ {
		hub.Broadcast([]byte(`{"type":"overlay.update"}`))
	}
	hub.Publish([]byte(`{"type":"marker.detach","key":"sos_1"}`))
	assert.Equal(t, uint64(36), hub.Dropped())
	assert.Equal(t, 1, hub.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	_ = viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := viewer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"marker.detach","key":"sos_1"}`, string(msg), "lifecycle event goes out ahead of queued frames")

	for i := 0; i < 64; i++ {
		_, msg, err := viewer.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"overlay.update"}`, string(msg))
	}
	assert.Zero(t, hub.Pending())
}

func TestHub_PublishAfterStopIsDiscarded(t *testing.T) {
	hub := NewHubService(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx))

	hub.Publish([]byte(`{"type":"marker.detach"}`))
	assert.Zero(t, hub.Pending())
}

func TestHub_RegisterAfterStop(t *testing.T) {
	hub := NewHubService(logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx))

	assert.ErrorIs(t, hub.Register(nil), ErrHubStopped)
}
