package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/storage"
	"github.com/cuemby/hyperctl/pkg/types"
)

const storagePoolInfoTimeout = 30 * time.Second

// ensureDriver resolves the Driver for poolID, lazily calling back to the
// Controller's get_storage_pool_info if this Agent hasn't registered it yet
// (/the lazy storage-pool registration). When poolID is empty
// (delete_volume/resize_volume/clone_volume/get_volume_info's payloads never
// carry it), it falls back to the single registered driver; with zero or
// more than one driver registered this is ambiguous and fails (documented in
// DESIGN.md as the resolution of that inherited payload-shape gap).
func (a *Agent) ensureDriver(poolID string) (storage.Driver, *rpc.RPCError) {
	if poolID == "" {
		if d, ok := a.storage.Single(); ok {
			return d, nil
		}
		return nil, rpc.NewErrorf(rpc.ErrStorageError, "pool_id not given and storage pool is ambiguous (registered pools != 1)")
	}
	if d, ok := a.storage.Get(poolID); ok {
		return d, nil
	}

	resp, rpcErr := a.client.Call("get_storage_pool_info", map[string]string{"pool_id": poolID}, storagePoolInfoTimeout)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var info struct {
		PoolID string            `json:"pool_id"`
		Name   string            `json:"name"`
		Kind   string            `json:"kind"`
		Config map[string]string `json:"config"`
	}
	if err := resp.UnmarshalResult(&info); err != nil {
		return nil, rpc.SerializationError(err)
	}

	driver, err := storage.NewDriverForPool(storage.PoolInfo{
		PoolID:   info.PoolID,
		PoolName: info.Name,
		PoolType: types.StoragePoolKind(info.Kind),
		Config:   info.Config,
	})
	if err != nil {
		return nil, rpc.NewErrorf(rpc.ErrStorageError, "%v", err)
	}
	a.storage.Register(poolID, driver)
	return driver, nil
}

// resolveDriver resolves the driver for an already-created volume by its
// remembered pool_id, falling back to ensureDriver's single-driver rule if
// this Agent process never saw the volume's create_volume call (e.g. after
// an Agent restart).
func (a *Agent) resolveDriver(volumeID string) (storage.Driver, *rpc.RPCError) {
	a.mu.Lock()
	poolID := a.volumePools[volumeID]
	a.mu.Unlock()
	return a.ensureDriver(poolID)
}

func (a *Agent) rememberPool(volumeID, poolID string) {
	if poolID == "" {
		return
	}
	a.mu.Lock()
	a.volumePools[volumeID] = poolID
	a.mu.Unlock()
}

func (a *Agent) handleCreateVolume(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VolumeID  string `json:"volume_id"`
		SizeGB    int    `json:"size_gb"`
		Format    string `json:"format"`
		PoolID    string `json:"pool_id"`
		SourceURL string `json:"source_url"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	driver, rpcErr := a.ensureDriver(params.PoolID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	path, err := driver.CreateVolume(context.Background(), params.VolumeID, params.SizeGB, types.VolumeKind(params.Format), params.SourceURL)
	if err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVolumeCreateFailed, "%v", err)
	}
	a.rememberPool(params.VolumeID, params.PoolID)
	return map[string]any{"path": path}, nil
}

func (a *Agent) handleDeleteVolume(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VolumeID string `json:"volume_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	driver, rpcErr := a.resolveDriver(params.VolumeID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := driver.DeleteVolume(context.Background(), params.VolumeID); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVolumeDeleteFailed, "%v", err)
	}

	a.mu.Lock()
	delete(a.volumePools, params.VolumeID)
	a.mu.Unlock()
	return map[string]any{"deleted": true}, nil
}

func (a *Agent) handleResizeVolume(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VolumeID string `json:"volume_id"`
		SizeGB   int    `json:"size_gb"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	driver, rpcErr := a.resolveDriver(params.VolumeID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := driver.ResizeVolume(context.Background(), params.VolumeID, params.SizeGB); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrStorageError, "%v", err)
	}
	return map[string]any{"size_gb": params.SizeGB}, nil
}

func (a *Agent) handleSnapshotVolume(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VolumeID     string `json:"volume_id"`
		SnapshotName string `json:"snapshot_name"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	driver, rpcErr := a.resolveDriver(params.VolumeID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := driver.CreateSnapshot(context.Background(), params.VolumeID, params.SnapshotName); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrStorageError, "%v", err)
	}
	return map[string]any{"snapshot_name": params.SnapshotName}, nil
}

func (a *Agent) handleCloneVolume(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		SourceVolumeID string `json:"source_volume_id"`
		NewVolumeID    string `json:"new_volume_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	driver, rpcErr := a.resolveDriver(params.SourceVolumeID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	path, err := driver.CloneVolume(context.Background(), params.SourceVolumeID, params.NewVolumeID)
	if err != nil {
		return nil, rpc.NewErrorf(rpc.ErrStorageError, "%v", err)
	}

	a.mu.Lock()
	if poolID, ok := a.volumePools[params.SourceVolumeID]; ok {
		a.volumePools[params.NewVolumeID] = poolID
	}
	a.mu.Unlock()
	return map[string]any{"path": path}, nil
}

func (a *Agent) handleGetVolumeInfo(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VolumeID string `json:"volume_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	driver, rpcErr := a.resolveDriver(params.VolumeID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	info, err := driver.GetVolumeInfo(context.Background(), params.VolumeID)
	if err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVolumeNotFound, "%v", err)
	}
	return info, nil
}

func (a *Agent) handleListVolumes(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		PoolID string `json:"pool_id"`
	}
	_ = json.Unmarshal(payload, &params)

	driver, rpcErr := a.ensureDriver(params.PoolID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	volumes, err := driver.ListVolumes(context.Background())
	if err != nil {
		return nil, rpc.NewErrorf(rpc.ErrStorageError, "%v", err)
	}
	return map[string]any{"volumes": volumes}, nil
}

// handleAttachVolumeSync and handleDetachVolumeSync answer the synchronous
// attach_volume/detach_volume methods alongside the
// attach_volume_async/detach_volume_async notifications the Controller
// actually fires today; kept for Controller implementations that prefer a
// blocking call over the notify-then-report pattern.
func (a *Agent) handleAttachVolumeSync(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VMID     string `json:"vm_id"`
		VolumeID string `json:"volume_id"`
		Path     string `json:"path"`
		Format   string `json:"format"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}
	if err := a.fx.AttachVolume(params.VMID, params.VolumeID, params.Path, types.VolumeKind(params.Format)); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVMOperationFailed, "%v", err)
	}
	return map[string]any{"attached": true}, nil
}

func (a *Agent) handleDetachVolumeSync(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VMID     string `json:"vm_id"`
		VolumeID string `json:"volume_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}
	if err := a.fx.DetachVolume(params.VMID, params.VolumeID); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVMOperationFailed, "%v", err)
	}
	return map[string]any{"detached": true}, nil
}
