package store

import (
	"testing"

	"github.com/cuemby/hyperctl/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNodeCRUD(t *testing.T) {
	s := newTestStore(t)

	node := &types.Node{ID: "n1", Hostname: "host-a", Status: types.NodeStatusOnline}
	if err := s.CreateNode(node); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}

	got, err := s.GetNode("n1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if got.Hostname != "host-a" {
		t.Errorf("GetNode().Hostname = %q, want %q", got.Hostname, "host-a")
	}

	node.Status = types.NodeStatusOffline
	if err := s.UpdateNode(node); err != nil {
		t.Fatalf("UpdateNode() error = %v", err)
	}
	got, _ = s.GetNode("n1")
	if got.Status != types.NodeStatusOffline {
		t.Errorf("GetNode().Status = %q, want %q", got.Status, types.NodeStatusOffline)
	}

	nodes, err := s.ListNodes()
	if err != nil || len(nodes) != 1 {
		t.Fatalf("ListNodes() = %v, %v, want 1 node", nodes, err)
	}

	if err := s.DeleteNode("n1"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	if _, err := s.GetNode("n1"); err == nil {
		t.Error("GetNode() after delete: want error, got nil")
	}
}

func TestVolumeListByPoolAndVM(t *testing.T) {
	s := newTestStore(t)

	vols := []*types.Volume{
		{ID: "v1", PoolID: "p1", Status: types.VolumeStatusAvailable},
		{ID: "v2", PoolID: "p1", VMID: "vm1", Status: types.VolumeStatusInUse},
		{ID: "v3", PoolID: "p2", Status: types.VolumeStatusAvailable},
	}
	for _, v := range vols {
		if err := s.CreateVolume(v); err != nil {
			t.Fatalf("CreateVolume() error = %v", err)
		}
	}

	byPool, err := s.ListVolumesByPool("p1")
	if err != nil || len(byPool) != 2 {
		t.Fatalf("ListVolumesByPool(p1) = %v, %v, want 2 volumes", byPool, err)
	}

	byVM, err := s.ListVolumesByVM("vm1")
	if err != nil || len(byVM) != 1 || byVM[0].ID != "v2" {
		t.Fatalf("ListVolumesByVM(vm1) = %v, %v, want [v2]", byVM, err)
	}
}

func TestIpAllocationLookupsByNetworkAndVM(t *testing.T) {
	s := newTestStore(t)

	allocs := []*types.IpAllocation{
		{ID: "a1", NetworkID: "net-1", IPAddress: "10.0.0.2", Status: types.IpAllocationStatusAvailable},
		{ID: "a2", NetworkID: "net-1", IPAddress: "10.0.0.3", VMID: "vm1", Status: types.IpAllocationStatusAllocated},
		{ID: "a3", NetworkID: "net-2", IPAddress: "10.0.1.2", Status: types.IpAllocationStatusAvailable},
	}
	for _, a := range allocs {
		if err := s.CreateIpAllocation(a); err != nil {
			t.Fatalf("CreateIpAllocation() error = %v", err)
		}
	}

	byNet, err := s.ListIpAllocationsByNetwork("net-1")
	if err != nil || len(byNet) != 2 {
		t.Fatalf("ListIpAllocationsByNetwork(net-1) = %v, %v, want 2", byNet, err)
	}

	byVM, err := s.ListIpAllocationsByVM("vm1")
	if err != nil || len(byVM) != 1 || byVM[0].ID != "a2" {
		t.Fatalf("ListIpAllocationsByVM(vm1) = %v, %v, want [a2]", byVM, err)
	}
}

func TestTaskListByTarget(t *testing.T) {
	s := newTestStore(t)

	tasks := []*types.Task{
		{ID: "t1", TargetType: "vm", TargetID: "vm1", Status: types.TaskStatusRunning},
		{ID: "t2", TargetType: "vm", TargetID: "vm2", Status: types.TaskStatusPending},
		{ID: "t3", TargetType: "volume", TargetID: "vm1", Status: types.TaskStatusCompleted},
	}
	for _, task := range tasks {
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
	}

	got, err := s.ListTasksByTarget("vm", "vm1")
	if err != nil || len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("ListTasksByTarget(vm, vm1) = %v, %v, want [t1]", got, err)
	}
}
