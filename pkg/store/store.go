// Package store defines the Controller's metadata persistence interface and
// its BoltDB-backed implementation, covering every entity except
// AgentConnection (which is in-memory only and lives in pkg/rpc).
package store

import "github.com/cuemby/hyperctl/pkg/types"

// Store is the Controller's transactional metadata store.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Storage pools
	CreateStoragePool(pool *types.StoragePool) error
	GetStoragePool(id string) (*types.StoragePool, error)
	ListStoragePools() ([]*types.StoragePool, error)
	ListStoragePoolsByNode(nodeID string) ([]*types.StoragePool, error)
	UpdateStoragePool(pool *types.StoragePool) error
	DeleteStoragePool(id string) error

	// Volumes
	CreateVolume(volume *types.Volume) error
	GetVolume(id string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	ListVolumesByPool(poolID string) ([]*types.Volume, error)
	ListVolumesByVM(vmID string) ([]*types.Volume, error)
	UpdateVolume(volume *types.Volume) error
	DeleteVolume(id string) error

	// Snapshots
	CreateSnapshot(snap *types.Snapshot) error
	GetSnapshot(id string) (*types.Snapshot, error)
	ListSnapshotsByVolume(volumeID string) ([]*types.Snapshot, error)
	UpdateSnapshot(snap *types.Snapshot) error
	DeleteSnapshot(id string) error

	// Networks
	CreateNetwork(network *types.Network) error
	GetNetwork(id string) (*types.Network, error)
	ListNetworks() ([]*types.Network, error)
	UpdateNetwork(network *types.Network) error
	DeleteNetwork(id string) error

	// IP allocations
	CreateIpAllocation(alloc *types.IpAllocation) error
	GetIpAllocation(id string) (*types.IpAllocation, error)
	ListIpAllocationsByNetwork(networkID string) ([]*types.IpAllocation, error)
	ListIpAllocationsByVM(vmID string) ([]*types.IpAllocation, error)
	UpdateIpAllocation(alloc *types.IpAllocation) error
	DeleteIpAllocation(id string) error

	// VMs
	CreateVM(vm *types.VM) error
	GetVM(id string) (*types.VM, error)
	ListVMs() ([]*types.VM, error)
	ListVMsByNode(nodeID string) ([]*types.VM, error)
	UpdateVM(vm *types.VM) error
	DeleteVM(id string) error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByTarget(targetType, targetID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	Close() error
}
