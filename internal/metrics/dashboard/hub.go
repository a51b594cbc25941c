package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/docmillproject/docmill/internal/metrics"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotSource supplies the snapshot sent to a freshly connected viewer.
type SnapshotSource interface {
	GetCurrentSnapshot() *metrics.MetricsSnapshot
}

// Hub pushes every new snapshot to all connected dashboard viewers. The push
// channel is one way, the only inbound frame a client may send is "ping".
type Hub struct {
	source SnapshotSource

	// mu guards conns and serializes all websocket writes
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(source SnapshotSource) *Hub {
	return &Hub{
		source: source,
		conns:  map[*websocket.Conn]struct{}{},
	}
}

// HandleWS upgrades the request, replays the current snapshot to the new
// client and keeps the connection registered until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade dashboard connection")
		return
	}
	h.add(conn)
	defer h.remove(conn)

	if snapshot := h.source.GetCurrentSnapshot(); snapshot != nil {
		frame, err := updateFrame(snapshot)
		if err != nil {
			log.WithError(err).Error("Failed to marshal dashboard update")
		} else if err := h.writeText(conn, frame); err != nil {
			return
		}
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage && string(data) == "ping" {
			if err := h.writeText(conn, []byte("pong")); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes one update frame to every connected client. Clients that
// cannot be written to within the write timeout are dropped.
func (h *Hub) Broadcast(snapshot *metrics.MetricsSnapshot) {
	if snapshot == nil {
		return
	}
	frame, err := updateFrame(snapshot)
	if err != nil {
		log.WithError(err).Error("Failed to marshal dashboard update")
		return
	}

	h.mu.Lock()
	var failed []*websocket.Conn
	deadline := time.Now().Add(writeTimeout)
	for conn := range h.conns {
		_ = conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		delete(h.conns, conn)
		_ = conn.Close()
	}
	remaining := len(h.conns)
	h.mu.Unlock()

	if len(failed) > 0 {
		log.Warnf("Dropped %d unresponsive dashboard clients, %d remain", len(failed), remaining)
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects all viewers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		delete(h.conns, conn)
		_ = conn.Close()
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()
	log.Infof("Dashboard client connected, %d active", count)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if present {
		_ = conn.Close()
		log.Info("Dashboard client disconnected")
	}
}

func (h *Hub) writeText(conn *websocket.Conn, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func updateFrame(snapshot *metrics.MetricsSnapshot) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"type": "metrics_update",
		"data": BuildPayload(snapshot, snapshot.Timestamp),
	})
}
