package rpc

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/queue"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := newTestRegistry()
	outbound := queue.NewUnbounded[Envelope]()

	conn := r.Register("node-1", "host-a", "10.0.0.1", outbound)
	if conn.NodeID != "node-1" {
		t.Fatalf("conn.NodeID = %q, want node-1", conn.NodeID)
	}

	got, ok := r.Get("node-1")
	if !ok || got != conn {
		t.Fatalf("Get(node-1) = %v, %v, want %v, true", got, ok, conn)
	}
}

func TestRegistryReRegisterClosesPriorConnection(t *testing.T) {
	r := newTestRegistry()
	first := r.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[Envelope]())
	second := r.Register("node-1", "host-a", "10.0.0.2", queue.NewUnbounded[Envelope]())

	if _, ok := r.Get("node-1"); !ok {
		t.Fatal("expected node-1 still registered after re-register")
	}
	got, _ := r.Get("node-1")
	if got != second {
		t.Fatal("Get(node-1) did not return the newest connection")
	}

	// The old connection is closed: Notify on it fails with CONNECTION_CLOSED.
	if err := first.Notify("heartbeat", nil); err == nil {
		t.Error("expected Notify on evicted connection to fail")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := newTestRegistry()
	r.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[Envelope]())
	r.Unregister("node-1")

	if _, ok := r.Get("node-1"); ok {
		t.Error("expected node-1 to be gone after Unregister")
	}
}

func TestRegistryNotifyUnknownNodeReturnsNodeOffline(t *testing.T) {
	r := newTestRegistry()
	if err := r.Notify("ghost", "heartbeat", nil); err == nil {
		t.Error("expected Notify on unknown node to error")
	} else if err.Code != ErrNodeOffline {
		t.Errorf("err.Code = %q, want %q", err.Code, ErrNodeOffline)
	}
}

func TestRegistryCallTimesOut(t *testing.T) {
	r := newTestRegistry()
	// Nothing drains the outbound queue or answers the request, so the send
	// itself always succeeds and the call times out waiting on a response.
	r.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[Envelope]())

	_, err := r.Call("node-1", "get_node_info", nil, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected Call to time out")
	}
	if err.Code != ErrTimeout {
		t.Errorf("err.Code = %q, want %q", err.Code, ErrTimeout)
	}
}

func TestRegistryBroadcastCountsSuccessfulSends(t *testing.T) {
	r := newTestRegistry()
	r.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[Envelope]())
	r.Register("node-2", "host-b", "10.0.0.2", queue.NewUnbounded[Envelope]())

	count := r.Broadcast("delete_network", map[string]string{"network_id": "net1"})
	if count != 2 {
		t.Errorf("Broadcast() = %d, want 2", count)
	}
}
