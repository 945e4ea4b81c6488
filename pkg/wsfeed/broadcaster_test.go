package wsfeed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastDeliversJSON(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dialTest(t, srv)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	b.Broadcast(map[string]string{"type": "stats", "variant": "realtime"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "stats", got["type"])
	assert.Equal(t, "realtime", got["variant"])
}

func TestBroadcastToMultipleClients(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	first := dialTest(t, srv)
	second := dialTest(t, srv)
	require.Eventually(t, func() bool { return b.ClientCount() == 2 },
		time.Second, 5*time.Millisecond)

	b.Broadcast(map[string]int{"n": 42})

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":42}`, string(msg))
	}
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dialTest(t, srv)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.ClientCount() == 0 },
		2*time.Second, 5*time.Millisecond, "закрывшийся клиент не снят с учёта")
}

func TestBroadcastWithoutClients(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	assert.NotPanics(t, func() { b.Broadcast(map[string]string{"type": "noop"}) })
}

func TestBroadcastUnserializable(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	// Канал не сериализуется в JSON: сообщение молча отбрасывается
	assert.NotPanics(t, func() { b.Broadcast(make(chan int)) })
}

func TestCloseDisconnectsClients(t *testing.T) {
	b := NewBroadcaster(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dialTest(t, srv)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	b.Close()
	assert.Zero(t, b.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "после Close соединение закрывается")
}
