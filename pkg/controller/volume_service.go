package controller

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/hyperctl/pkg/types"
)

// VolumeService implements the volume operations. Create, delete, resize,
// and clone are synchronous Agent RPCs (the caller blocks on the Agent's
// response); snapshot restore is asynchronous and is refused while the
// parent volume is attached to a VM.
type VolumeService struct {
	d deps
}

// volumeCallTimeout values are far longer than DefaultCallTimeout: creating
// or cloning a multi-gigabyte image over NFS can legitimately take minutes.
const (
	createVolumeTimeout = 300 * time.Second
	cloneVolumeTimeout  = 300 * time.Second
	resizeVolumeTimeout = 60 * time.Second
)

// CreateVolume inserts a creating-status Volume row, calls the pool's Node
// synchronously, and persists the returned path/size on success or flips to
// error on failure.
func (s *VolumeService) CreateVolume(name string, sizeGB int, kind types.VolumeKind, poolID, sourceURL string) (*types.Volume, error) {
	pool, err := s.d.store.GetStoragePool(poolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %s: %w", poolID, err)
	}

	vol := &types.Volume{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		SizeGB:    sizeGB,
		PoolID:    poolID,
		Status:    types.VolumeStatusCreating,
		SourceURL: sourceURL,
	}
	if err := s.d.store.CreateVolume(vol); err != nil {
		return nil, fmt.Errorf("persisting volume: %w", err)
	}

	payload := map[string]any{
		"volume_id":  vol.ID,
		"size_gb":    sizeGB,
		"format":     kind,
		"pool_id":    poolID,
		"source_url": sourceURL,
	}
	resp, rpcErr := s.d.registry.Call(pool.NodeID, "create_volume", payload, createVolumeTimeout)
	if rpcErr != nil {
		vol.Status = types.VolumeStatusError
		_ = s.d.store.UpdateVolume(vol)
		return nil, fmt.Errorf("agent create_volume: %w", rpcErr)
	}

	var result struct {
		Path string `json:"path"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		vol.Status = types.VolumeStatusError
		_ = s.d.store.UpdateVolume(vol)
		return nil, fmt.Errorf("parsing create_volume response: %w", err)
	}

	vol.Path = result.Path
	vol.Status = types.VolumeStatusAvailable
	if err := s.d.store.UpdateVolume(vol); err != nil {
		return nil, fmt.Errorf("persisting created volume: %w", err)
	}
	return vol, nil
}

// DeleteVolume is rejected while the volume is attached to a VM.
func (s *VolumeService) DeleteVolume(volumeID string) error {
	vol, err := s.d.store.GetVolume(volumeID)
	if err != nil {
		return fmt.Errorf("volume %s: %w", volumeID, err)
	}
	if vol.Status == types.VolumeStatusInUse || vol.VMID != "" {
		return fmt.Errorf("cannot delete in-use volume %s", volumeID)
	}

	pool, err := s.d.store.GetStoragePool(vol.PoolID)
	if err != nil {
		return fmt.Errorf("storage pool %s: %w", vol.PoolID, err)
	}

	vol.Status = types.VolumeStatusDeleting
	if err := s.d.store.UpdateVolume(vol); err != nil {
		return fmt.Errorf("persisting deleting status: %w", err)
	}

	payload := map[string]any{"volume_id": volumeID}
	if _, rpcErr := s.d.registry.Call(pool.NodeID, "delete_volume", payload, DefaultCallTimeout); rpcErr != nil {
		vol.Status = types.VolumeStatusError
		_ = s.d.store.UpdateVolume(vol)
		return fmt.Errorf("agent delete_volume: %w", rpcErr)
	}

	if err := s.d.store.DeleteVolume(volumeID); err != nil {
		return fmt.Errorf("deleting volume row: %w", err)
	}
	return nil
}

// ResizeVolume only grows a volume: a new size that does not exceed the
// current one is rejected here before any Agent call. The volume's status
// is not checked.
func (s *VolumeService) ResizeVolume(volumeID string, newSizeGB int) (*types.Volume, error) {
	vol, err := s.d.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %s: %w", volumeID, err)
	}
	if newSizeGB <= vol.SizeGB {
		return nil, fmt.Errorf("new size %dGB must exceed current size %dGB", newSizeGB, vol.SizeGB)
	}

	pool, err := s.d.store.GetStoragePool(vol.PoolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %s: %w", vol.PoolID, err)
	}

	payload := map[string]any{"volume_id": volumeID, "size_gb": newSizeGB}
	if _, rpcErr := s.d.registry.Call(pool.NodeID, "resize_volume", payload, resizeVolumeTimeout); rpcErr != nil {
		return nil, fmt.Errorf("agent resize_volume: %w", rpcErr)
	}

	vol.SizeGB = newSizeGB
	if err := s.d.store.UpdateVolume(vol); err != nil {
		return nil, fmt.Errorf("persisting resized volume: %w", err)
	}
	return vol, nil
}

// CloneVolume creates a fresh, available Volume row backed by a Node-side
// file copy of sourceVolumeID.
func (s *VolumeService) CloneVolume(sourceVolumeID, newName string) (*types.Volume, error) {
	src, err := s.d.store.GetVolume(sourceVolumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %s: %w", sourceVolumeID, err)
	}
	pool, err := s.d.store.GetStoragePool(src.PoolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %s: %w", src.PoolID, err)
	}

	newID := uuid.NewString()
	payload := map[string]any{"source_volume_id": sourceVolumeID, "new_volume_id": newID}
	resp, rpcErr := s.d.registry.Call(pool.NodeID, "clone_volume", payload, cloneVolumeTimeout)
	if rpcErr != nil {
		return nil, fmt.Errorf("agent clone_volume: %w", rpcErr)
	}

	var result struct {
		Path string `json:"path"`
	}
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, fmt.Errorf("parsing clone_volume response: %w", err)
	}

	clone := &types.Volume{
		ID:     newID,
		Name:   newName,
		Kind:   src.Kind,
		SizeGB: src.SizeGB,
		PoolID: src.PoolID,
		Path:   result.Path,
		Status: types.VolumeStatusAvailable,
	}
	if err := s.d.store.CreateVolume(clone); err != nil {
		return nil, fmt.Errorf("persisting cloned volume: %w", err)
	}
	return clone, nil
}

// GetVolumeInfo round-trips to the owning Node for live size/path info
// rather than trusting the metadata store alone, since the underlying file
// can be resized or converted outside the Controller's awareness.
func (s *VolumeService) GetVolumeInfo(volumeID string) (map[string]any, error) {
	vol, err := s.d.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %s: %w", volumeID, err)
	}
	pool, err := s.d.store.GetStoragePool(vol.PoolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %s: %w", vol.PoolID, err)
	}

	resp, rpcErr := s.d.registry.Call(pool.NodeID, "get_volume_info", map[string]any{"volume_id": volumeID}, DefaultCallTimeout)
	if rpcErr != nil {
		return nil, fmt.Errorf("agent get_volume_info: %w", rpcErr)
	}

	var info map[string]any
	if err := resp.UnmarshalResult(&info); err != nil {
		return nil, fmt.Errorf("parsing get_volume_info response: %w", err)
	}
	return info, nil
}

// ListVolumes returns the Controller's own metadata rows; it does not round
// trip to every Node, unlike GetVolumeInfo.
func (s *VolumeService) ListVolumes() ([]*types.Volume, error) {
	return s.d.store.ListVolumes()
}

