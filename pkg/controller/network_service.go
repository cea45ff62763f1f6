package controller

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/hyperctl/pkg/ipam"
	"github.com/cuemby/hyperctl/pkg/netutil"
	"github.com/cuemby/hyperctl/pkg/types"
)

// NetworkService implements the network operations. Network creation and
// deletion are Controller-local metadata operations plus a best-effort
// broadcast so every connected Agent pre-wires the bridge; per-VM interface
// attachment is handled by VMService since it mutates the VM row.
type NetworkService struct {
	d deps
}

// CreateNetwork persists the Network row and seeds its IpAllocation pool in
// one step: pre-seeding happens at network-create time, not lazily on first
// VM attach. It then asks every currently connected Agent to pre-wire the
// bridge so the first VM placed on it doesn't pay the bridge setup cost
// during create_vm.
func (s *NetworkService) CreateNetwork(name string, kind types.NetworkKind, cidrStr, gateway string, mtu int, vlanID *int) (*types.Network, error) {
	network := &types.Network{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    kind,
		CIDR:    cidrStr,
		Gateway: gateway,
		MTU:     mtu,
		VLANID:  vlanID,
	}
	if err := s.d.store.CreateNetwork(network); err != nil {
		return nil, fmt.Errorf("persisting network: %w", err)
	}

	allocations, err := ipam.SeedPool(network)
	if err != nil {
		_ = s.d.store.DeleteNetwork(network.ID)
		return nil, fmt.Errorf("seeding ip pool: %w", err)
	}
	for _, a := range allocations {
		if err := s.d.store.CreateIpAllocation(a); err != nil {
			return nil, fmt.Errorf("persisting ip allocation %s: %w", a.IPAddress, err)
		}
	}

	bridge, inferredVLAN := netutil.InferBridgeName(network.BridgeName())
	s.d.registry.Broadcast("create_network", map[string]any{
		"network_id": network.ID,
		"bridge":     bridge,
		"vlan_id":    inferredVLAN,
		"mtu":        mtu,
	})

	return network, nil
}

// DeleteNetwork is rejected while any IpAllocation for this network is
// allocated, per the Network invariant.
func (s *NetworkService) DeleteNetwork(networkID string) error {
	allocations, err := s.d.store.ListIpAllocationsByNetwork(networkID)
	if err != nil {
		return fmt.Errorf("listing ip allocations for network %s: %w", networkID, err)
	}
	for _, a := range allocations {
		if a.Status == types.IpAllocationStatusAllocated {
			return fmt.Errorf("cannot delete network %s: ip %s is still allocated", networkID, a.IPAddress)
		}
	}

	for _, a := range allocations {
		if err := s.d.store.DeleteIpAllocation(a.ID); err != nil {
			return fmt.Errorf("deleting ip allocation %s: %w", a.ID, err)
		}
	}

	network, err := s.d.store.GetNetwork(networkID)
	if err != nil {
		return fmt.Errorf("network %s: %w", networkID, err)
	}
	if err := s.d.store.DeleteNetwork(networkID); err != nil {
		return fmt.Errorf("deleting network row: %w", err)
	}

	bridge, inferredVLAN := netutil.InferBridgeName(network.BridgeName())
	s.d.registry.Broadcast("delete_network", map[string]any{
		"network_id": networkID,
		"bridge":     bridge,
		"vlan_id":    inferredVLAN,
	})
	return nil
}

// ListNetworks returns every persisted Network.
func (s *NetworkService) ListNetworks() ([]*types.Network, error) {
	return s.d.store.ListNetworks()
}

// GetNetwork returns a single Network by id.
func (s *NetworkService) GetNetwork(networkID string) (*types.Network, error) {
	return s.d.store.GetNetwork(networkID)
}
