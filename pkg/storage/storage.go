// Package storage is the Agent-side storage driver layer: a small
// capability interface implemented per backend kind, with NFSDriver as the
// only implementation in scope.
package storage

import (
	"context"

	"github.com/cuemby/hyperctl/pkg/types"
)

// VolumeInfo is what GetVolumeInfo/ListVolumes report back about a volume
// file on disk.
type VolumeInfo struct {
	VolumeID     string
	Path         string
	Format       types.VolumeKind
	VirtualSize  int64
	ActualSize   int64
}

// Driver is the per-backend storage capability set. Dispatch to a concrete
// Driver happens once, at pool registration.
type Driver interface {
	CreateVolume(ctx context.Context, volumeID string, sizeGB int, format types.VolumeKind, sourceURL string) (path string, err error)
	DeleteVolume(ctx context.Context, volumeID string) error
	ResizeVolume(ctx context.Context, volumeID string, sizeGB int) error
	GetVolumeInfo(ctx context.Context, volumeID string) (*VolumeInfo, error)
	ListVolumes(ctx context.Context) ([]*VolumeInfo, error)
	CreateSnapshot(ctx context.Context, volumeID, snapshotName string) error
	CloneVolume(ctx context.Context, sourceVolumeID, newVolumeID string) (path string, err error)
}

// PoolInfo is the Agent-side resolved view of a StoragePool, as returned by
// the Controller's get_storage_pool_info RPC (resolved lazily, on first use).
type PoolInfo struct {
	PoolID   string
	PoolName string
	PoolType types.StoragePoolKind
	Config   map[string]string
}

// Registry holds the drivers the Agent has lazily registered for pools it
// has seen a volume RPC for, keyed by pool_id.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry constructs an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Get returns the driver registered for poolID, if any.
func (r *Registry) Get(poolID string) (Driver, bool) {
	d, ok := r.drivers[poolID]
	return d, ok
}

// Register installs a driver for poolID, overwriting any prior registration.
func (r *Registry) Register(poolID string, d Driver) {
	r.drivers[poolID] = d
}

// Single returns the one registered driver when exactly one pool has been
// registered, for volume RPCs whose payload omits pool_id (the resolution
// of that payload-shape ambiguity, documented in DESIGN.md).
func (r *Registry) Single() (Driver, bool) {
	if len(r.drivers) != 1 {
		return nil, false
	}
	for _, d := range r.drivers {
		return d, true
	}
	return nil, false
}

// NewDriverForPool constructs the Driver implementation appropriate for
// info.PoolType. Only nfs is implemented; other kinds return an
// UnsupportedPoolKindError.
func NewDriverForPool(info PoolInfo) (Driver, error) {
	switch info.PoolType {
	case types.StoragePoolKindNFS:
		mountPath := info.Config["mount_path"]
		return NewNFSDriver(mountPath), nil
	default:
		return nil, &UnsupportedPoolKindError{Kind: info.PoolType}
	}
}

// UnsupportedPoolKindError reports a StoragePoolKind with no Agent-side
// driver implementation.
type UnsupportedPoolKindError struct {
	Kind types.StoragePoolKind
}

func (e *UnsupportedPoolKindError) Error() string {
	return "unsupported storage pool kind: " + string(e.Kind)
}
