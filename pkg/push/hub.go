// Package push is the Controller's frontend WebSocket channel: a second,
// simpler endpoint than the Agent RPC fabric, fanning typed
// status updates out to every connected browser. Adapted from this repo's
// event-broker idiom (subscriber map guarded by a RWMutex, unbounded
// per-subscriber queue, single fan-out loop), generalized from business
// Event objects to the six tagged outbound message variants below.
package push

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/queue"
)

// MessageType tags an outbound frontend message variant.
type MessageType string

const (
	TypeVMStatusUpdate       MessageType = "VmStatusUpdate"
	TypeNodeStatusUpdate     MessageType = "NodeStatusUpdate"
	TypeTaskStatusUpdate     MessageType = "TaskStatusUpdate"
	TypeSnapshotStatusUpdate MessageType = "SnapshotStatusUpdate"
	TypeSystemNotification   MessageType = "SystemNotification"
	TypePong                 MessageType = "Pong"
)

// Message is the single outbound JSON shape, tagged by Type; only the
// field relevant to Type is populated.
type Message struct {
	Type         MessageType `json:"type"`
	VMID         string      `json:"vm_id,omitempty"`
	NodeID       string      `json:"node_id,omitempty"`
	TaskID       string      `json:"task_id,omitempty"`
	SnapshotID   string      `json:"snapshot_id,omitempty"`
	Status       string      `json:"status,omitempty"`
	Message      string      `json:"message,omitempty"`
	Title        string      `json:"title,omitempty"`
	Level        string      `json:"level,omitempty"`
	Timestamp    int64       `json:"timestamp,omitempty"`
}

// NotificationLevel enumerates SystemNotification.Level.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Conn is one registered frontend connection: an id, an optional
// authenticated user id (for send_to_user filtering), and an unbounded
// outbound channel drained by a per-connection writer goroutine.
type Conn struct {
	ID       string
	UserID   *string
	outbound *queue.Unbounded[Message]
}

// Hub tracks every connected frontend and fans outbound messages out to
// them, mirroring this repo's Broker shape.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Conn
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

// NewHub constructs an empty frontend hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Conn),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		log:         log.With().Str("component", "push-hub").Logger(),
	}
}

// Register adds conn to the hub.
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
}

// Unregister removes and closes conn's outbound channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	conn, ok := h.connections[id]
	if ok {
		delete(h.connections, id)
	}
	h.mu.Unlock()
	if ok {
		conn.outbound.Close()
	}
}

// Broadcast fans msg out to every connected frontend. The outbound queue is
// unbounded, so every connection still open receives msg; only a connection
// that has already been torn down is skipped.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conn := range h.connections {
		if conn.outbound.Push(msg) {
			count++
		} else {
			h.log.Warn().Str("conn_id", conn.ID).Msg("frontend connection closed, dropping message")
		}
	}
	return count
}

// SendToUser fans msg out only to connections authenticated as userID.
func (h *Hub) SendToUser(userID string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conn := range h.connections {
		if conn.UserID == nil || *conn.UserID != userID {
			continue
		}
		if conn.outbound.Push(msg) {
			count++
		}
	}
	return count
}

// ServeHTTP upgrades the connection (GET /ws/frontend) and runs its
// read/write pumps until the socket closes. The only inbound message this
// endpoint accepts is {"type":"ping"}, answered with a Pong.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("frontend websocket upgrade failed")
		return
	}
	defer wsConn.Close()

	conn := &Conn{ID: r.URL.Query().Get("id"), outbound: queue.NewUnbounded[Message]()}
	if conn.ID == "" {
		conn.ID = newConnID()
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		conn.UserID = &userID
	}

	h.Register(conn)
	defer h.Unregister(conn.ID)

	done := make(chan struct{})
	go h.writePump(wsConn, conn.outbound.Out(), done)
	defer close(done)

	for {
		var inbound struct {
			Type string `json:"type"`
		}
		if err := wsConn.ReadJSON(&inbound); err != nil {
			return
		}
		if inbound.Type == "ping" {
			conn.outbound.Push(Message{Type: TypePong})
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, outbound <-chan Message, done <-chan struct{}) {
	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

var connSeq struct {
	mu sync.Mutex
	n  int
}

func newConnID() string {
	connSeq.mu.Lock()
	defer connSeq.mu.Unlock()
	connSeq.n++
	return "frontend-conn-" + strconv.Itoa(connSeq.n)
}
