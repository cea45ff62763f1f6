// Package ipam pre-seeds and allocates the per-Network IPv4 pool: every
// Network's CIDR is expanded into IpAllocation rows (skipping the gateway
// and the network/broadcast addresses, capped at 254 entries) the moment
// the Network is created, and the lowest available address is handed out
// on each VM interface request.
package ipam

import (
	"fmt"
	"net"
	"sort"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/google/uuid"

	"github.com/cuemby/hyperctl/pkg/types"
)

// MaxPoolSize bounds how many IpAllocation rows SeedPool creates for a
// single Network, regardless of how large the CIDR is.
const MaxPoolSize = 254

// SeedPool expands network.CIDR into a slice of fresh IpAllocation rows,
// all status=available, skipping the network address, the broadcast
// address, and the gateway (if it parses inside the CIDR). The caller is
// responsible for persisting the returned rows.
func SeedPool(network *types.Network) ([]*types.IpAllocation, error) {
	_, ipnet, err := net.ParseCIDR(network.CIDR)
	if err != nil {
		return nil, fmt.Errorf("parsing network cidr %q: %w", network.CIDR, err)
	}

	first, last := cidr.AddressRange(ipnet)
	gateway := net.ParseIP(network.Gateway)

	var allocations []*types.IpAllocation
	for ip := first; !ip.Equal(last) && len(allocations) < MaxPoolSize; ip = nextIP(ip) {
		if ip.Equal(first) {
			continue // network address
		}
		if gateway != nil && ip.Equal(gateway) {
			continue
		}
		allocations = append(allocations, &types.IpAllocation{
			ID:        uuid.NewString(),
			NetworkID: network.ID,
			IPAddress: ip.String(),
			Status:    types.IpAllocationStatusAvailable,
		})
	}

	return allocations, nil
}

// nextIP returns the IPv4 address immediately following ip.
func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// PickLowest returns the available allocation with the lowest IP address
// from a set of candidates. Candidates need not be sorted on input.
func PickLowest(candidates []*types.IpAllocation) (*types.IpAllocation, error) {
	var available []*types.IpAllocation
	for _, a := range candidates {
		if a.Status == types.IpAllocationStatusAvailable {
			available = append(available, a)
		}
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("no available ip allocation in pool")
	}
	sort.Slice(available, func(i, j int) bool {
		return ipLess(available[i].IPAddress, available[j].IPAddress)
	})
	return available[0], nil
}

func ipLess(a, b string) bool {
	ipA, ipB := net.ParseIP(a).To4(), net.ParseIP(b).To4()
	if ipA == nil || ipB == nil {
		return a < b
	}
	for i := range ipA {
		if ipA[i] != ipB[i] {
			return ipA[i] < ipB[i]
		}
	}
	return false
}

// NextMAC generates a VM network interface MAC address under the standard
// QEMU/libvirt locally-administered prefix 52:54:00.
func NextMAC() string {
	id := uuid.New()
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", id[0], id[1], id[2])
}
