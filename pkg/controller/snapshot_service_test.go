package controller

import (
	"testing"
	"time"

	"github.com/cuemby/hyperctl/pkg/queue"
	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/types"
)

func seedVolumeWithPool(t *testing.T, st interface {
	CreateStoragePool(*types.StoragePool) error
	CreateVolume(*types.Volume) error
}, nodeID string) {
	t.Helper()
	pool := &types.StoragePool{ID: "pool-1", Kind: types.StoragePoolKindNFS, NodeID: nodeID}
	if err := st.CreateStoragePool(pool); err != nil {
		t.Fatalf("CreateStoragePool() error = %v", err)
	}
	vol := &types.Volume{ID: "vol-1", Name: "disk1", SizeGB: 20, PoolID: "pool-1", Status: types.VolumeStatusAvailable}
	if err := st.CreateVolume(vol); err != nil {
		t.Fatalf("CreateVolume() error = %v", err)
	}
}

func TestCreateSnapshotPersistsTaskAndNotifies(t *testing.T) {
	services, registry, st := newTestServices(t)
	seedVolumeWithPool(t, st, "node-1")
	outbound := queue.NewUnbounded[rpc.Envelope]()
	registry.Register("node-1", "host-a", "10.0.0.1", outbound)

	snap, err := services.Snapshot.CreateSnapshot("vol-1", "snap-1", "test snapshot")
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	if snap.Status != types.SnapshotStatusCreating {
		t.Errorf("snap.Status = %q, want creating", snap.Status)
	}

	select {
	case env := <-outbound.Out():
		if env.Method != "create_snapshot_async" {
			t.Errorf("notified method = %q, want create_snapshot_async", env.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("expected create_snapshot_async to be sent")
	}

	tasks, err := st.ListTasks()
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListTasks() = %v, %v, want exactly one task", tasks, err)
	}
	if tasks[0].TargetType != "snapshot" || tasks[0].TargetID != snap.ID {
		t.Errorf("unexpected task: %+v", tasks[0])
	}
}

func TestApplySnapshotOperationCompletedCreateSuccess(t *testing.T) {
	services, registry, st := newTestServices(t)
	seedVolumeWithPool(t, st, "node-1")
	registry.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[rpc.Envelope]())

	snap, err := services.Snapshot.CreateSnapshot("vol-1", "snap-1", "")
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	tasks, _ := st.ListTasks()
	taskID := tasks[0].ID

	services.Snapshot.ApplySnapshotOperationCompleted(snap.ID, "create_snapshot", true, "", taskID)

	got, err := st.GetSnapshot(snap.ID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if got.Status != types.SnapshotStatusAvailable {
		t.Errorf("snapshot.Status = %q, want available", got.Status)
	}

	gotTask, err := st.GetTask(taskID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if gotTask.Status != types.TaskStatusCompleted {
		t.Errorf("task.Status = %q, want completed", gotTask.Status)
	}
}

func TestApplySnapshotOperationCompletedDeleteRemovesRow(t *testing.T) {
	services, registry, st := newTestServices(t)
	seedVolumeWithPool(t, st, "node-1")
	registry.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[rpc.Envelope]())

	snap, err := services.Snapshot.CreateSnapshot("vol-1", "snap-1", "")
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	services.Snapshot.ApplySnapshotOperationCompleted(snap.ID, "create_snapshot", true, "", "")

	if err := services.Snapshot.DeleteSnapshot(snap.ID); err != nil {
		t.Fatalf("DeleteSnapshot() error = %v", err)
	}
	tasks, _ := st.ListTasks()
	var deleteTaskID string
	for _, task := range tasks {
		if task.Type == "delete_snapshot" {
			deleteTaskID = task.ID
		}
	}
	if deleteTaskID == "" {
		t.Fatal("expected a delete_snapshot task to have been created")
	}

	services.Snapshot.ApplySnapshotOperationCompleted(snap.ID, "delete_snapshot", true, "", deleteTaskID)

	if _, err := st.GetSnapshot(snap.ID); err == nil {
		t.Error("expected snapshot row to be deleted after successful delete_snapshot completion")
	}
}

func TestRestoreSnapshotRejectedWhenParentVMRunning(t *testing.T) {
	services, registry, st := newTestServices(t)
	seedVolumeWithPool(t, st, "node-1")
	registry.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[rpc.Envelope]())

	vm := &types.VM{ID: "vm-1", Status: types.VMStatusRunning}
	if err := st.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}
	vol, err := st.GetVolume("vol-1")
	if err != nil {
		t.Fatalf("GetVolume() error = %v", err)
	}
	vol.VMID = "vm-1"
	if err := st.UpdateVolume(vol); err != nil {
		t.Fatalf("UpdateVolume() error = %v", err)
	}

	snap, err := services.Snapshot.CreateSnapshot("vol-1", "snap-1", "")
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}

	if err := services.Snapshot.RestoreSnapshot(snap.ID); err == nil {
		t.Fatal("expected RestoreSnapshot to reject a running parent vm")
	}
}
