package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmillproject/docmill/internal/metrics"
)

type stubSource struct {
	snapshot *metrics.MetricsSnapshot
}

func (s *stubSource) GetCurrentSnapshot() *metrics.MetricsSnapshot {
	return s.snapshot
}

func testSnapshot() *metrics.MetricsSnapshot {
	return &metrics.MetricsSnapshot{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Request: metrics.RequestMetrics{
			RequestCount:    100,
			RequestRate:     1.234,
			ResponseTimeAvg: 0.2504,
			SuccessRate:     98.26,
			ErrorRate:       1.74,
		},
		System: metrics.SystemMetrics{UptimeSeconds: 5400.6},
	}
}

func startHub(t *testing.T, source SnapshotSource) (*Hub, *httptest.Server) {
	hub := NewHub(source)
	mux := http.NewServeMux()
	mux.HandleFunc("/dashboard/ws", hub.HandleWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)
	return hub, server
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/dashboard/ws"
	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) Payload {
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame struct {
		Type string  `json:"type"`
		Data Payload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "metrics_update", frame.Type)
	return frame.Data
}

func TestNewClientReceivesCurrentSnapshot(t *testing.T) {
	_, server := startHub(t, &stubSource{snapshot: testSnapshot()})
	conn := dialHub(t, server)

	payload := readUpdate(t, conn)

	assert.Equal(t, 100, payload.Request.RequestCount)
	assert.Equal(t, "2024-05-01T12:00:00Z", payload.Timestamp)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, server := startHub(t, &stubSource{})
	first := dialHub(t, server)
	second := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(testSnapshot())

	assert.Equal(t, 100, readUpdate(t, first).Request.RequestCount)
	assert.Equal(t, 100, readUpdate(t, second).Request.RequestCount)
}

func TestBroadcastNilIsNoOp(t *testing.T) {
	hub, server := startHub(t, &stubSource{})
	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestPingPong(t *testing.T) {
	_, server := startHub(t, &stubSource{})
	conn := dialHub(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub, server := startHub(t, &stubSource{})
	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Close()

	assert.Equal(t, 0, hub.ClientCount())
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestDisconnectedClientIsForgotten(t *testing.T) {
	hub, server := startHub(t, &stubSource{})
	conn := dialHub(t, server)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}
