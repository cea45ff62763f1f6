package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/hyperctl/pkg/storage"
)

type snapshotAsyncPayload struct {
	VolumeID     string `json:"volume_id"`
	TaskID       string `json:"task_id"`
	SnapshotID   string `json:"snapshot_id"`
	SnapshotName string `json:"snapshot_name"`
}

func (a *Agent) handleCreateSnapshotAsync(nodeID string, payload json.RawMessage) {
	var params snapshotAsyncPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("create_snapshot_async: invalid payload")
		return
	}

	go func() {
		driver, rpcErr := a.resolveDriver(params.VolumeID)
		var err error
		if rpcErr != nil {
			err = rpcErr
		} else {
			err = driver.CreateSnapshot(context.Background(), params.VolumeID, params.SnapshotName)
		}
		a.reportSnapshotCompletion(params.SnapshotID, params.TaskID, "create_snapshot", err)
	}()
}

// handleDeleteSnapshotAsync and handleRestoreSnapshotAsync reach
// NFSDriver's delete/restore snapshot-tag methods through a type assertion
// since they are deliberately outside storage.Driver's small capability
// set; NFS is the only backend in scope so the assertion cannot fail in
// practice, but is checked rather than trusted.
func (a *Agent) handleDeleteSnapshotAsync(nodeID string, payload json.RawMessage) {
	var params snapshotAsyncPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("delete_snapshot_async: invalid payload")
		return
	}

	go func() {
		err := a.withNFSDriver(params.VolumeID, func(d *storage.NFSDriver) error {
			return d.DeleteSnapshotTag(context.Background(), params.VolumeID, params.SnapshotName)
		})
		a.reportSnapshotCompletion(params.SnapshotID, params.TaskID, "delete_snapshot", err)
	}()
}

func (a *Agent) handleRestoreSnapshotAsync(nodeID string, payload json.RawMessage) {
	var params snapshotAsyncPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("restore_snapshot_async: invalid payload")
		return
	}

	go func() {
		err := a.withNFSDriver(params.VolumeID, func(d *storage.NFSDriver) error {
			return d.RestoreSnapshotTag(context.Background(), params.VolumeID, params.SnapshotName)
		})
		a.reportSnapshotCompletion(params.SnapshotID, params.TaskID, "restore_snapshot", err)
	}()
}

func (a *Agent) withNFSDriver(volumeID string, fn func(*storage.NFSDriver) error) error {
	driver, rpcErr := a.resolveDriver(volumeID)
	if rpcErr != nil {
		return rpcErr
	}
	nfs, ok := driver.(*storage.NFSDriver)
	if !ok {
		return fmt.Errorf("volume %s: storage backend does not support snapshot tag operations", volumeID)
	}
	return fn(nfs)
}

func (a *Agent) reportSnapshotCompletion(snapshotID, taskID, operation string, err error) {
	message := ""
	success := err == nil
	if err != nil {
		message = err.Error()
		a.log.Error().Err(err).Str("snapshot_id", snapshotID).Str("operation", operation).Msg("snapshot operation failed")
	}
	payload := map[string]any{
		"snapshot_id": snapshotID,
		"task_id":     taskID,
		"operation":   operation,
		"success":     success,
		"message":     message,
	}
	if rpcErr := a.client.Notify("snapshot_operation_completed", payload); rpcErr != nil {
		a.log.Warn().Err(rpcErr).Str("snapshot_id", snapshotID).Msg("failed to report snapshot operation completion")
	}
}
