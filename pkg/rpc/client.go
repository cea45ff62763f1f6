package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/queue"
)

// Client is the Agent-side half of the RPC fabric: it dials the Controller,
// performs the register handshake, runs a heartbeat loop, dispatches
// Controller-initiated requests/notifications, and reconnects with backoff
// on any transport error.
type Client struct {
	URL              string
	NodeID           string
	Hostname         string
	IPAddress        string
	HeartbeatInterval time.Duration
	ReconnectBackoff time.Duration

	methods       map[string]HandlerFunc
	notifications map[string]NotificationFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	outbound *queue.Unbounded[Envelope]
	pending  map[string]*pendingCall

	log zerolog.Logger
}

// NewClient constructs an Agent-side RPC client. Call Run to connect and
// serve until ctx is cancelled.
func NewClient(url, nodeID, hostname, ipAddress string, log zerolog.Logger) *Client {
	return &Client{
		URL:               url,
		NodeID:            nodeID,
		Hostname:          hostname,
		IPAddress:         ipAddress,
		HeartbeatInterval: 30 * time.Second,
		ReconnectBackoff:  5 * time.Second,
		methods:           make(map[string]HandlerFunc),
		notifications:     make(map[string]NotificationFunc),
		pending:           make(map[string]*pendingCall),
		log:               log.With().Str("component", "rpc-client").Logger(),
	}
}

// HandleMethod registers a handler for a Controller-initiated request
// (e.g. create_volume, attach_interface).
func (c *Client) HandleMethod(method string, fn HandlerFunc) {
	c.methods[method] = fn
}

// HandleNotification registers a handler for a Controller-initiated
// notification (e.g. start_vm_async).
func (c *Client) HandleNotification(method string, fn NotificationFunc) {
	c.notifications[method] = fn
}

// Run connects and serves until ctx is cancelled, reconnecting with backoff
// on any transport error per the reconnection policy.
func (c *Client) Run(ctx context.Context, onConnect func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runOnce(ctx, onConnect); err != nil {
			c.log.Warn().Err(err).Dur("backoff", c.ReconnectBackoff).Msg("agent connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.ReconnectBackoff):
		}
	}
}

func (c *Client) runOnce(ctx context.Context, onConnect func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	outbound := queue.NewUnbounded[Envelope]()
	c.mu.Lock()
	c.conn = conn
	c.outbound = outbound
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()
	defer outbound.Close()

	done := make(chan struct{})
	go c.writePump(conn, outbound.Out(), done)
	defer close(done)

	if _, rpcErr := c.call(outbound, "register", map[string]string{
		"node_id":    c.NodeID,
		"hostname":   c.Hostname,
		"ip_address": c.IPAddress,
	}, 30*time.Second); rpcErr != nil {
		return rpcErr
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go c.heartbeatLoop(heartbeatCtx, outbound)

	if onConnect != nil {
		onConnect()
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.evictPending()
			return err
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}
		go c.handleFrame(outbound, env)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, outbound *queue.Unbounded[Envelope]) {
	ticker := time.NewTicker(c.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			env, err := NewNotification("heartbeat", map[string]int64{"timestamp": t.Unix()})
			if err != nil {
				continue
			}
			outbound.Push(env)
		}
	}
}

func (c *Client) handleFrame(outbound *queue.Unbounded[Envelope], env Envelope) {
	switch env.Type {
	case TypeResponse:
		c.mu.Lock()
		call, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			call.resultCh <- env
		}
	case TypeNotification:
		if fn, ok := c.notifications[env.Method]; ok {
			fn(c.NodeID, env.Payload)
		} else {
			c.log.Debug().Str("method", env.Method).Msg("no handler for notification")
		}
	case TypeRequest:
		fn, ok := c.methods[env.Method]
		if !ok {
			outbound.Push(NewErrorResponse(env.ID, MethodNotFound(env.Method)))
			return
		}
		result, rpcErr := fn(c.NodeID, env.Payload)
		if rpcErr != nil {
			outbound.Push(NewErrorResponse(env.ID, rpcErr))
			return
		}
		resp, err := NewResponse(env.ID, result)
		if err != nil {
			outbound.Push(NewErrorResponse(env.ID, SerializationError(err)))
			return
		}
		outbound.Push(resp)
	}
}

// Call issues an Agent-initiated request to the Controller (e.g.
// get_storage_pool_info) and awaits a correlated response under timeout.
func (c *Client) Call(method string, payload any, timeout time.Duration) (Envelope, *RPCError) {
	c.mu.Lock()
	outbound := c.outbound
	c.mu.Unlock()
	if outbound == nil {
		return Envelope{}, ConnectionClosed()
	}
	return c.call(outbound, method, payload, timeout)
}

func (c *Client) call(outbound *queue.Unbounded[Envelope], method string, payload any, timeout time.Duration) (Envelope, *RPCError) {
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

	if !outbound.Push(env) {
		return Envelope{}, ConnectionClosed()
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

// Notify fires a fire-and-forget notification to the Controller (e.g.
// vm_operation_completed).
func (c *Client) Notify(method string, payload any) *RPCError {
	c.mu.Lock()
	outbound := c.outbound
	c.mu.Unlock()
	if outbound == nil {
		return ConnectionClosed()
	}
	env, err := NewNotification(method, payload)
	if err != nil {
		return SerializationError(err)
	}
	if !outbound.Push(env) {
		return ConnectionClosed()
	}
	return nil
}

func (c *Client) evictPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()
	for _, call := range pending {
		call.resultCh <- NewErrorResponse("", ConnectionClosed())
	}
}

func (c *Client) writePump(conn *websocket.Conn, outbound <-chan Envelope, done <-chan struct{}) {
	for {
		select {
		case env, ok := <-outbound:
			if !ok {
				return
			}
			if err := writeEnvelope(conn, env); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
