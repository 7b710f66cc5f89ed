package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/events/bus"
)

func dial(t *testing.T, testServer *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestBroadcaster_SendsInitialTasksListOnConnect(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, bus.TasksList, msg.Event.Type)
	assert.NotEmpty(t, msg.ID)
}

func TestBroadcaster_DeliversOnlyToSubscribedClients(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var connectMsg ServerMessage
	require.NoError(t, conn.ReadJSON(&connectMsg))

	// task_created is a default subscription, so it should arrive.
	waitForClient(t, b, 1)
	b.Broadcast(bus.New(bus.TaskCreated, map[string]string{"id": "t1"}))

	var got ServerMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, bus.TaskCreated, got.Event.Type)

	// Unsubscribe from task_created and confirm nothing further arrives.
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "unsubscribe", EventTypes: []bus.Kind{bus.TaskCreated}}))
	time.Sleep(50 * time.Millisecond)

	b.Broadcast(bus.New(bus.TaskCreated, nil))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	err := conn.ReadJSON(&got)
	assert.Error(t, err, "expected no further event after unsubscribe")
}

func TestBroadcaster_ClientCountReflectsConnections(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server)
	waitForClient(t, b, 1)
	assert.Equal(t, 1, b.ClientCount())

	conn.Close()
	waitForClient(t, b, 0)
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcaster_SweepEvictsStaleClient(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	waitForClient(t, b, 1)

	b.mu.Lock()
	for _, c := range b.clients {
		c.lastSeen = time.Now().Add(-evictAfter - time.Second)
	}
	b.mu.Unlock()

	b.sweep()
	assert.Equal(t, 0, b.ClientCount())
}

func waitForClient(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for client count %d, got %d", n, b.ClientCount())
}
