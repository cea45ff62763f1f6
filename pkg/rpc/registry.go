package rpc

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/queue"
)

// pendingCall is the one-shot responder a Call installs while awaiting a
// correlated response envelope.
type pendingCall struct {
	resultCh chan Envelope
}

// AgentConnection is the Controller's in-memory handle to one connected
// Agent: an unbounded outbound queue plus the map of requests awaiting a
// correlated response. It is destroyed on socket close or heartbeat timeout.
type AgentConnection struct {
	NodeID   string
	Hostname string
	IP       string

	outbound *queue.Unbounded[Envelope]

	mu            sync.Mutex
	pending       map[string]*pendingCall
	lastHeartbeat time.Time

	closeOnce sync.Once
}

func newAgentConnection(nodeID, hostname, ip string, outbound *queue.Unbounded[Envelope]) *AgentConnection {
	return &AgentConnection{
		NodeID:        nodeID,
		Hostname:      hostname,
		IP:            ip,
		outbound:      outbound,
		pending:       make(map[string]*pendingCall),
		lastHeartbeat: time.Now(),
	}
}

// Outbound returns the channel the connection's writer goroutine drains.
func (c *AgentConnection) Outbound() <-chan Envelope {
	return c.outbound.Out()
}

// Send enqueues an envelope for delivery on the connection's single writer.
// The queue is unbounded, so Send never blocks on a slow writer; it only
// returns CONNECTION_CLOSED once the connection has already been torn down.
func (c *AgentConnection) Send(env Envelope) *RPCError {
	if !c.outbound.Push(env) {
		return ConnectionClosed()
	}
	return nil
}

// touchHeartbeat refreshes the in-memory last-heartbeat instant.
func (c *AgentConnection) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

// LastHeartbeat returns the last recorded heartbeat instant.
func (c *AgentConnection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// dispatchResponse delivers a response envelope to its pending caller, if any.
func (c *AgentConnection) dispatchResponse(env Envelope) {
	c.mu.Lock()
	call, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if ok {
		call.resultCh <- env
	}
}

// close evicts every pending call with CONNECTION_CLOSED and marks the
// connection as torn down. Safe to call more than once.
func (c *AgentConnection) close() {
	c.closeOnce.Do(func() {
		c.outbound.Close()
		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[string]*pendingCall)
		c.mu.Unlock()
		for _, call := range pending {
			call.resultCh <- NewErrorResponse("", ConnectionClosed())
		}
	})
}

// Call allocates a request id, registers a one-shot responder, sends the
// request, and waits up to timeout for a correlated response. The pending
// entry is always removed regardless of which branch of the select wins:
// no caller-initiated cancellation is needed because the timeout itself is
// the cancellation mechanism.
func (c *AgentConnection) Call(method string, payload any, timeout time.Duration) (Envelope, *RPCError) {
	env, err := NewRequest(method, payload)
	if err != nil {
		return Envelope{}, SerializationError(err)
	}

	call := &pendingCall{resultCh: make(chan Envelope, 1)}
	c.mu.Lock()
	c.pending[env.ID] = call
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if sendErr := c.Send(env); sendErr != nil {
		return Envelope{}, sendErr
	}

	select {
	case resp := <-call.resultCh:
		if resp.IsError() {
			return resp, resp.Error
		}
		return resp, nil
	case <-time.After(timeout):
		return Envelope{}, TimeoutError(method)
	}
}

// Notify fires a fire-and-forget notification on the connection.
func (c *AgentConnection) Notify(method string, payload any) *RPCError {
	env, err := NewNotification(method, payload)
	if err != nil {
		return SerializationError(err)
	}
	return c.Send(env)
}

// Registry is the Controller's process-wide node_id -> AgentConnection map.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*AgentConnection
	log   zerolog.Logger
}

// NewRegistry constructs an empty agent registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]*AgentConnection),
		log:   log.With().Str("component", "rpc-registry").Logger(),
	}
}

// Register installs a new AgentConnection, replacing and closing any prior
// connection for the same node_id: reconnection is eviction-of-old plus
// fresh registration.
func (r *Registry) Register(nodeID, hostname, ip string, outbound *queue.Unbounded[Envelope]) *AgentConnection {
	conn := newAgentConnection(nodeID, hostname, ip, outbound)

	r.mu.Lock()
	old := r.conns[nodeID]
	r.conns[nodeID] = conn
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	r.log.Info().Str("node_id", nodeID).Str("hostname", hostname).Msg("agent registered")
	return conn
}

// Unregister removes and closes the connection for node_id, if present.
func (r *Registry) Unregister(nodeID string) {
	r.mu.Lock()
	conn, ok := r.conns[nodeID]
	if ok {
		delete(r.conns, nodeID)
	}
	r.mu.Unlock()
	if ok {
		conn.close()
		r.log.Info().Str("node_id", nodeID).Msg("agent unregistered")
	}
}

// Get returns the connection for node_id, if any.
func (r *Registry) Get(nodeID string) (*AgentConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[nodeID]
	return conn, ok
}

// Call looks up node_id's connection and issues a correlated request.
func (r *Registry) Call(nodeID, method string, payload any, timeout time.Duration) (Envelope, *RPCError) {
	conn, ok := r.Get(nodeID)
	if !ok {
		return Envelope{}, NodeOffline(nodeID)
	}
	return conn.Call(method, payload, timeout)
}

// Notify looks up node_id's connection and fires a notification.
func (r *Registry) Notify(nodeID, method string, payload any) *RPCError {
	conn, ok := r.Get(nodeID)
	if !ok {
		return NodeOffline(nodeID)
	}
	return conn.Notify(method, payload)
}

// Broadcast fires method/payload as a notification to every connected
// Agent, returning the number of connections it was sent to.
func (r *Registry) Broadcast(method string, payload any) int {
	r.mu.RLock()
	conns := make([]*AgentConnection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	count := 0
	for _, c := range conns {
		if err := c.Notify(method, payload); err == nil {
			count++
		}
	}
	return count
}

// Snapshot returns the currently registered AgentConnections as a fresh
// slice; the metrics collector counts them.
func (r *Registry) Snapshot() []*AgentConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentConnection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
