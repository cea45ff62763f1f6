package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/queue"
)

// HandlerFunc answers a Controller-side request method with a payload or an
// RPCError. Implementations run one-per-frame: the receive loop never blocks
// on handler latency (the concurrency contract).
type HandlerFunc func(nodeID string, payload json.RawMessage) (any, *RPCError)

// NotificationFunc processes an Agent-initiated notification.
type NotificationFunc func(nodeID string, payload json.RawMessage)

// Server is the Controller-side WebSocket endpoint for Agents
// (GET /ws/agent). It owns the Registry and the method/notification
// dispatch tables Agents may call into.
type Server struct {
	Registry *Registry

	upgrader      websocket.Upgrader
	methods       map[string]HandlerFunc
	notifications map[string]NotificationFunc
	log           zerolog.Logger
}

// NewServer constructs a Server around a fresh Registry.
func NewServer(log zerolog.Logger) *Server {
	return &Server{
		Registry:      NewRegistry(log),
		upgrader:      websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		methods:       make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationFunc),
		log:           log.With().Str("component", "rpc-server").Logger(),
	}
}

// HandleMethod registers an Agent-initiated method (e.g. register,
// get_storage_pool_info).
func (s *Server) HandleMethod(method string, fn HandlerFunc) {
	s.methods[method] = fn
}

// HandleNotification registers an Agent-initiated notification handler
// (e.g. heartbeat, node_resource_info, vm_operation_completed).
func (s *Server) HandleNotification(method string, fn NotificationFunc) {
	s.notifications[method] = fn
}

// ServeHTTP upgrades the connection and runs its frame pump until the socket
// closes. The first frame must be a "register" request; any other first
// frame is rejected and the socket closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	outbound := queue.NewUnbounded[Envelope]()
	defer outbound.Close()
	done := make(chan struct{})
	go s.writePump(conn, outbound.Out(), done)

	var agentConn *AgentConnection
	var nodeID string

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}

		if agentConn == nil {
			if env.Type != TypeRequest || env.Method != "register" {
				resp := NewErrorResponse(env.ID, NewError("REGISTER_FAILED", "first frame must be register"))
				writeEnvelope(conn, resp)
				break
			}
			var params struct {
				NodeID    string `json:"node_id"`
				Hostname  string `json:"hostname"`
				IPAddress string `json:"ip_address"`
			}
			if err := json.Unmarshal(env.Payload, &params); err != nil {
				resp := NewErrorResponse(env.ID, InvalidParams(err.Error()))
				writeEnvelope(conn, resp)
				break
			}
			result, rpcErr := s.methods["register"](params.NodeID, env.Payload)
			if rpcErr != nil {
				writeEnvelope(conn, NewErrorResponse(env.ID, rpcErr))
				break
			}
			nodeID = params.NodeID
			agentConn = s.Registry.Register(nodeID, params.Hostname, params.IPAddress, outbound)
			resp, _ := NewResponse(env.ID, result)
			outbound.Push(resp)
			continue
		}

		go s.handleFrame(agentConn, nodeID, env)
	}

	close(done)
	if agentConn != nil {
		s.Registry.Unregister(nodeID)
	}
}

// handleFrame dispatches a single post-registration frame. It runs in its
// own goroutine per inbound frame so handler latency never blocks parsing.
func (s *Server) handleFrame(conn *AgentConnection, nodeID string, env Envelope) {
	switch env.Type {
	case TypeResponse:
		conn.dispatchResponse(env)
	case TypeNotification:
		if env.Method == "heartbeat" {
			conn.touchHeartbeat()
		}
		if fn, ok := s.notifications[env.Method]; ok {
			fn(nodeID, env.Payload)
		} else {
			s.log.Debug().Str("method", env.Method).Msg("no handler for notification")
		}
	case TypeRequest:
		fn, ok := s.methods[env.Method]
		if !ok {
			conn.Send(NewErrorResponse(env.ID, MethodNotFound(env.Method)))
			return
		}
		result, rpcErr := fn(nodeID, env.Payload)
		if rpcErr != nil {
			conn.Send(NewErrorResponse(env.ID, rpcErr))
			return
		}
		resp, err := NewResponse(env.ID, result)
		if err != nil {
			conn.Send(NewErrorResponse(env.ID, SerializationError(err)))
			return
		}
		conn.Send(resp)
	}
}

// writePump is the connection's single writer, serializing all outbound
// frames so concurrent handlers never interleave writes on the socket.
func (s *Server) writePump(conn *websocket.Conn, outbound <-chan Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-outbound:
			if !ok {
				return
			}
			if err := writeEnvelope(conn, env); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
