package controller

import (
	"testing"
	"time"

	"github.com/cuemby/hyperctl/pkg/queue"
	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/types"
)

func TestReconcileNodesEvictsStaleHeartbeat(t *testing.T) {
	services, registry, st := newTestServices(t)

	stale := &types.Node{ID: "node-1", Hostname: "host-a", Status: types.NodeStatusOnline, LastHeartbeat: time.Now().Add(-10 * time.Minute)}
	fresh := &types.Node{ID: "node-2", Hostname: "host-b", Status: types.NodeStatusOnline, LastHeartbeat: time.Now()}
	if err := st.CreateNode(stale); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if err := st.CreateNode(fresh); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	registry.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[rpc.Envelope]())
	registry.Register("node-2", "host-b", "10.0.0.2", queue.NewUnbounded[rpc.Envelope]())

	r := NewReconciler(services, time.Minute, testLogger())
	if err := r.reconcileNodes(); err != nil {
		t.Fatalf("reconcileNodes() error = %v", err)
	}

	gotStale, _ := st.GetNode("node-1")
	if gotStale.Status != types.NodeStatusOffline {
		t.Errorf("stale node status = %q, want offline", gotStale.Status)
	}
	if _, ok := registry.Get("node-1"); ok {
		t.Error("expected stale node's connection to be evicted from the registry")
	}

	gotFresh, _ := st.GetNode("node-2")
	if gotFresh.Status != types.NodeStatusOnline {
		t.Errorf("fresh node status = %q, want online", gotFresh.Status)
	}
	if _, ok := registry.Get("node-2"); !ok {
		t.Error("expected fresh node's connection to remain registered")
	}
}

func TestNewReconcilerFallsBackToDefaultTimeout(t *testing.T) {
	services, _, _ := newTestServices(t)
	r := NewReconciler(services, 0, testLogger())
	if r.heartbeatTimeout != defaultHeartbeatTimeout {
		t.Errorf("heartbeatTimeout = %v, want default %v", r.heartbeatTimeout, defaultHeartbeatTimeout)
	}

	r2 := NewReconciler(services, 5*time.Minute, testLogger())
	if r2.heartbeatTimeout != 5*time.Minute {
		t.Errorf("heartbeatTimeout = %v, want 5m", r2.heartbeatTimeout)
	}
}
