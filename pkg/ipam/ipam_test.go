package ipam

import (
	"testing"

	"github.com/cuemby/hyperctl/pkg/types"
)

func TestSeedPoolSkipsNetworkBroadcastAndGateway(t *testing.T) {
	network := &types.Network{ID: "net1", CIDR: "192.168.50.0/29", Gateway: "192.168.50.1"}

	allocations, err := SeedPool(network)
	if err != nil {
		t.Fatalf("SeedPool() error = %v", err)
	}

	// /29 gives 8 addresses: .0 (network), .1-.6 (hosts), .7 (broadcast).
	// Network, broadcast, and the .1 gateway are all excluded.
	if len(allocations) != 5 {
		t.Fatalf("len(allocations) = %d, want 5", len(allocations))
	}
	for _, a := range allocations {
		if a.IPAddress == "192.168.50.0" || a.IPAddress == "192.168.50.7" || a.IPAddress == "192.168.50.1" {
			t.Errorf("SeedPool() included excluded address %s", a.IPAddress)
		}
		if a.NetworkID != "net1" {
			t.Errorf("allocation.NetworkID = %q, want %q", a.NetworkID, "net1")
		}
		if a.Status != types.IpAllocationStatusAvailable {
			t.Errorf("allocation.Status = %q, want available", a.Status)
		}
	}
}

func TestSeedPoolCapsAtMaxPoolSize(t *testing.T) {
	network := &types.Network{ID: "net2", CIDR: "10.0.0.0/16", Gateway: "10.0.0.1"}

	allocations, err := SeedPool(network)
	if err != nil {
		t.Fatalf("SeedPool() error = %v", err)
	}
	if len(allocations) != MaxPoolSize {
		t.Fatalf("len(allocations) = %d, want %d", len(allocations), MaxPoolSize)
	}
}

func TestSeedPoolInvalidCIDR(t *testing.T) {
	network := &types.Network{ID: "net3", CIDR: "not-a-cidr"}
	if _, err := SeedPool(network); err == nil {
		t.Error("SeedPool() with invalid cidr: want error, got nil")
	}
}

func TestPickLowestReturnsLowestAvailable(t *testing.T) {
	candidates := []*types.IpAllocation{
		{IPAddress: "10.0.0.20", Status: types.IpAllocationStatusAvailable},
		{IPAddress: "10.0.0.5", Status: types.IpAllocationStatusAllocated},
		{IPAddress: "10.0.0.8", Status: types.IpAllocationStatusAvailable},
		{IPAddress: "10.0.0.2", Status: types.IpAllocationStatusAvailable},
	}

	picked, err := PickLowest(candidates)
	if err != nil {
		t.Fatalf("PickLowest() error = %v", err)
	}
	if picked.IPAddress != "10.0.0.2" {
		t.Errorf("PickLowest().IPAddress = %q, want %q", picked.IPAddress, "10.0.0.2")
	}
}

func TestPickLowestNoneAvailable(t *testing.T) {
	candidates := []*types.IpAllocation{
		{IPAddress: "10.0.0.2", Status: types.IpAllocationStatusAllocated},
	}
	if _, err := PickLowest(candidates); err == nil {
		t.Error("PickLowest() with no available candidates: want error, got nil")
	}
}

func TestNextMACHasLocallyAdministeredPrefix(t *testing.T) {
	mac := NextMAC()
	if len(mac) != len("52:54:00:aa:bb:cc") {
		t.Fatalf("NextMAC() = %q, unexpected length", mac)
	}
	if mac[:9] != "52:54:00:" {
		t.Errorf("NextMAC() = %q, want 52:54:00: prefix", mac)
	}
}
