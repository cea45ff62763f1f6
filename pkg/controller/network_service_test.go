package controller

import (
	"testing"

	"github.com/cuemby/hyperctl/pkg/types"
)

func TestCreateNetworkSeedsIPPool(t *testing.T) {
	services, _, st := newTestServices(t)
	vlan := 42

	net, err := services.Network.CreateNetwork("net-1", types.NetworkKindBridge, "10.10.0.0/29", "10.10.0.1", 1500, &vlan)
	if err != nil {
		t.Fatalf("CreateNetwork() error = %v", err)
	}
	if net.BridgeName() != "br-vlan42" {
		t.Errorf("BridgeName() = %q, want br-vlan42", net.BridgeName())
	}

	allocations, err := st.ListIpAllocationsByNetwork(net.ID)
	if err != nil {
		t.Fatalf("ListIpAllocationsByNetwork() error = %v", err)
	}
	if len(allocations) == 0 {
		t.Fatal("expected CreateNetwork to seed ip allocations")
	}
	for _, a := range allocations {
		if a.Status != types.IpAllocationStatusAvailable {
			t.Errorf("allocation %s status = %q, want available", a.IPAddress, a.Status)
		}
	}
}

func TestDeleteNetworkRejectedWithAllocatedIP(t *testing.T) {
	services, _, st := newTestServices(t)
	net, err := services.Network.CreateNetwork("net-1", types.NetworkKindBridge, "10.10.0.0/29", "10.10.0.1", 1500, nil)
	if err != nil {
		t.Fatalf("CreateNetwork() error = %v", err)
	}

	allocations, _ := st.ListIpAllocationsByNetwork(net.ID)
	allocations[0].Status = types.IpAllocationStatusAllocated
	allocations[0].VMID = "vm-1"
	if err := st.UpdateIpAllocation(allocations[0]); err != nil {
		t.Fatalf("UpdateIpAllocation() error = %v", err)
	}

	if err := services.Network.DeleteNetwork(net.ID); err == nil {
		t.Fatal("expected DeleteNetwork to reject a network with an allocated ip")
	}
}

func TestDeleteNetworkSucceedsWhenNoneAllocated(t *testing.T) {
	services, _, _ := newTestServices(t)
	net, err := services.Network.CreateNetwork("net-1", types.NetworkKindBridge, "10.10.0.0/29", "10.10.0.1", 1500, nil)
	if err != nil {
		t.Fatalf("CreateNetwork() error = %v", err)
	}
	if err := services.Network.DeleteNetwork(net.ID); err != nil {
		t.Fatalf("DeleteNetwork() error = %v", err)
	}
}
