package controller

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/hyperctl/pkg/push"
	"github.com/cuemby/hyperctl/pkg/types"
)

// SnapshotService implements the snapshot operations. All three
// operations are asynchronous: the Controller inserts a transitional-status
// row, fires a *_snapshot_async notification, and waits for
// ApplySnapshotOperationCompleted to reach a terminal state.
type SnapshotService struct {
	d deps
}

// startAsyncTask persists a running Task row for a fire-and-forget Agent
// notification and stamps its id into payload, mirroring VMService's
// helper of the same name.
func (s *SnapshotService) startAsyncTask(taskType, nodeID, targetID string, payload map[string]any) (*types.Task, error) {
	now := time.Now()
	task := &types.Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Status:     types.TaskStatusRunning,
		TargetType: "snapshot",
		TargetID:   targetID,
		NodeID:     nodeID,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.d.store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("persisting task: %w", err)
	}
	payload["task_id"] = task.ID
	return task, nil
}

// finishTask resolves a previously started Task to its terminal state.
func (s *SnapshotService) finishTask(taskID string, success bool, message string) {
	if taskID == "" {
		return
	}
	task, err := s.d.store.GetTask(taskID)
	if err != nil {
		s.d.log.Warn().Err(err).Str("task_id", taskID).Msg("completion for unknown task")
		return
	}
	if success {
		task.Status = types.TaskStatusCompleted
	} else {
		task.Status = types.TaskStatusFailed
		task.ErrorMessage = message
	}
	task.Progress = 100
	task.UpdatedAt = time.Now()
	if err := s.d.store.UpdateTask(task); err != nil {
		s.d.log.Error().Err(err).Str("task_id", taskID).Msg("failed to persist task completion")
	}
}

// CreateSnapshot inserts a creating-status Snapshot row and fires
// create_snapshot_async at the Volume's owning Node.
func (s *SnapshotService) CreateSnapshot(volumeID, name, description string) (*types.Snapshot, error) {
	vol, err := s.d.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %s: %w", volumeID, err)
	}
	pool, err := s.d.store.GetStoragePool(vol.PoolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %s: %w", vol.PoolID, err)
	}

	snap := &types.Snapshot{
		ID:          uuid.NewString(),
		Name:        name,
		VolumeID:    volumeID,
		Status:      types.SnapshotStatusCreating,
		SizeGB:      vol.SizeGB,
		SnapshotTag: name,
		Description: description,
	}
	if err := s.d.store.CreateSnapshot(snap); err != nil {
		return nil, fmt.Errorf("persisting snapshot: %w", err)
	}

	payload := map[string]any{
		"volume_id":     volumeID,
		"snapshot_id":   snap.ID,
		"snapshot_name": snap.SnapshotTag,
	}
	if _, err := s.startAsyncTask("create_snapshot", pool.NodeID, snap.ID, payload); err != nil {
		snap.Status = types.SnapshotStatusError
		_ = s.d.store.UpdateSnapshot(snap)
		return nil, err
	}
	if rpcErr := s.d.registry.Notify(pool.NodeID, "create_snapshot_async", payload); rpcErr != nil {
		snap.Status = types.SnapshotStatusError
		_ = s.d.store.UpdateSnapshot(snap)
		return nil, fmt.Errorf("notifying agent create_snapshot_async: %w", rpcErr)
	}
	return snap, nil
}

// DeleteSnapshot flips the row to deleting and fires delete_snapshot_async;
// the row is removed only once ApplySnapshotOperationCompleted reports
// success.
func (s *SnapshotService) DeleteSnapshot(snapshotID string) error {
	snap, err := s.d.store.GetSnapshot(snapshotID)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	vol, err := s.d.store.GetVolume(snap.VolumeID)
	if err != nil {
		return fmt.Errorf("volume %s: %w", snap.VolumeID, err)
	}
	pool, err := s.d.store.GetStoragePool(vol.PoolID)
	if err != nil {
		return fmt.Errorf("storage pool %s: %w", vol.PoolID, err)
	}

	snap.Status = types.SnapshotStatusDeleting
	if err := s.d.store.UpdateSnapshot(snap); err != nil {
		return fmt.Errorf("persisting deleting status: %w", err)
	}

	payload := map[string]any{
		"volume_id":     snap.VolumeID,
		"snapshot_id":   snap.ID,
		"snapshot_name": snap.SnapshotTag,
	}
	if _, err := s.startAsyncTask("delete_snapshot", pool.NodeID, snap.ID, payload); err != nil {
		snap.Status = types.SnapshotStatusError
		_ = s.d.store.UpdateSnapshot(snap)
		return err
	}
	if rpcErr := s.d.registry.Notify(pool.NodeID, "delete_snapshot_async", payload); rpcErr != nil {
		snap.Status = types.SnapshotStatusError
		_ = s.d.store.UpdateSnapshot(snap)
		return fmt.Errorf("notifying agent delete_snapshot_async: %w", rpcErr)
	}
	return nil
}

// RestoreSnapshot is rejected while the parent volume is in use (attached
// to any VM, running or stopped); it fires restore_snapshot_async and lets
// the completion notification resolve the volume back to available.
func (s *SnapshotService) RestoreSnapshot(snapshotID string) error {
	snap, err := s.d.store.GetSnapshot(snapshotID)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	vol, err := s.d.store.GetVolume(snap.VolumeID)
	if err != nil {
		return fmt.Errorf("volume %s: %w", snap.VolumeID, err)
	}
	if vol.Status == types.VolumeStatusInUse || vol.VMID != "" {
		return fmt.Errorf("cannot restore snapshot %s: volume %s is in use by vm %s", snapshotID, vol.ID, vol.VMID)
	}

	pool, err := s.d.store.GetStoragePool(vol.PoolID)
	if err != nil {
		return fmt.Errorf("storage pool %s: %w", vol.PoolID, err)
	}

	payload := map[string]any{
		"volume_id":     snap.VolumeID,
		"snapshot_id":   snap.ID,
		"snapshot_name": snap.SnapshotTag,
	}
	if _, err := s.startAsyncTask("restore_snapshot", pool.NodeID, snap.ID, payload); err != nil {
		return err
	}
	if rpcErr := s.d.registry.Notify(pool.NodeID, "restore_snapshot_async", payload); rpcErr != nil {
		return fmt.Errorf("notifying agent restore_snapshot_async: %w", rpcErr)
	}
	return nil
}

// ListSnapshotsByVolume returns every snapshot of volumeID.
func (s *SnapshotService) ListSnapshotsByVolume(volumeID string) ([]*types.Snapshot, error) {
	return s.d.store.ListSnapshotsByVolume(volumeID)
}

// ApplySnapshotOperationCompleted is the dispatcher for
// snapshot_operation_completed notifications: it resolves the transitional
// row to a terminal state (or deletes it, for delete_snapshot), resolves
// the originating Task (if the Agent echoed one back), and broadcasts a
// SnapshotStatusUpdate.
func (s *SnapshotService) ApplySnapshotOperationCompleted(snapshotID, operation string, success bool, message, taskID string) {
	defer s.finishTask(taskID, success, message)

	snap, err := s.d.store.GetSnapshot(snapshotID)
	if err != nil {
		s.d.log.Warn().Err(err).Str("snapshot_id", snapshotID).Msg("completion notification for unknown snapshot")
		return
	}

	status := "available"
	switch operation {
	case "create_snapshot":
		if success {
			snap.Status = types.SnapshotStatusAvailable
		} else {
			snap.Status = types.SnapshotStatusError
		}
		if err := s.d.store.UpdateSnapshot(snap); err != nil {
			s.d.log.Error().Err(err).Msg("failed to persist snapshot completion")
			return
		}
	case "delete_snapshot":
		if success {
			if err := s.d.store.DeleteSnapshot(snapshotID); err != nil {
				s.d.log.Error().Err(err).Msg("failed to delete snapshot row")
				return
			}
			status = "deleted"
		} else {
			snap.Status = types.SnapshotStatusError
			_ = s.d.store.UpdateSnapshot(snap)
		}
	case "restore_snapshot":
		if success {
			snap.Status = types.SnapshotStatusAvailable
			if vol, err := s.d.store.GetVolume(snap.VolumeID); err == nil {
				vol.Status = types.VolumeStatusAvailable
				_ = s.d.store.UpdateVolume(vol)
			}
		} else {
			snap.Status = types.SnapshotStatusError
		}
		_ = s.d.store.UpdateSnapshot(snap)
	default:
		s.d.log.Warn().Str("operation", operation).Msg("unrecognized snapshot_operation_completed operation")
		return
	}

	if !success {
		status = "error"
	}
	s.d.push.Broadcast(push.Message{
		Type:       push.TypeSnapshotStatusUpdate,
		SnapshotID: snapshotID,
		Status:     status,
		Message:    message,
	})
}
