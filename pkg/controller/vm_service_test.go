package controller

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/push"
	"github.com/cuemby/hyperctl/pkg/queue"
	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/store"
	"github.com/cuemby/hyperctl/pkg/types"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestServices(t *testing.T) (*Services, *rpc.Registry, *store.BoltStore) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := rpc.NewRegistry(zerolog.Nop())
	hub := push.NewHub(zerolog.Nop())
	services := NewServices(st, registry, hub, zerolog.Nop())
	return services, registry, st
}

func TestCreateVMFlipsVolumeToInUse(t *testing.T) {
	services, _, st := newTestServices(t)

	vol := &types.Volume{ID: "vol-1", Name: "disk1", Kind: types.VolumeKindQcow2, SizeGB: 10, Status: types.VolumeStatusAvailable}
	if err := st.CreateVolume(vol); err != nil {
		t.Fatalf("CreateVolume() error = %v", err)
	}

	vm, err := services.VM.CreateVM(CreateVMRequest{
		Name:     "test-vm",
		NodeID:   "node-1",
		VCPU:     2,
		MemoryMB: 1024,
		OSType:   types.OSTypeLinux,
		Disks:    []DiskRequest{{VolumeID: "vol-1", BusType: types.BusTypeVirtio, DeviceType: types.DeviceTypeDisk}},
	})
	if err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}
	if vm.Status != types.VMStatusStopped {
		t.Errorf("vm.Status = %q, want stopped", vm.Status)
	}

	gotVol, err := st.GetVolume("vol-1")
	if err != nil {
		t.Fatalf("GetVolume() error = %v", err)
	}
	if gotVol.Status != types.VolumeStatusInUse || gotVol.VMID != vm.ID {
		t.Errorf("volume not flipped to in-use: %+v", gotVol)
	}
}

func TestCreateVMRejectsUnavailableVolume(t *testing.T) {
	services, _, st := newTestServices(t)

	vol := &types.Volume{ID: "vol-1", Status: types.VolumeStatusInUse, VMID: "other-vm"}
	if err := st.CreateVolume(vol); err != nil {
		t.Fatalf("CreateVolume() error = %v", err)
	}

	_, err := services.VM.CreateVM(CreateVMRequest{
		Name:   "test-vm",
		NodeID: "node-1",
		Disks:  []DiskRequest{{VolumeID: "vol-1"}},
	})
	if err == nil {
		t.Fatal("expected CreateVM to reject an in-use volume")
	}
}

func TestStartVMPersistsTaskAndNotifiesAgent(t *testing.T) {
	services, registry, st := newTestServices(t)

	vm := &types.VM{ID: "vm-1", Name: "test-vm", NodeID: "node-1", Status: types.VMStatusStopped}
	if err := st.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}

	outbound := queue.NewUnbounded[rpc.Envelope]()
	registry.Register("node-1", "host-a", "10.0.0.1", outbound)

	if err := services.VM.StartVM("vm-1"); err != nil {
		t.Fatalf("StartVM() error = %v", err)
	}

	got, _ := st.GetVM("vm-1")
	if got.Status != types.VMStatusStarting {
		t.Errorf("vm.Status = %q, want starting", got.Status)
	}

	select {
	case env := <-outbound.Out():
		if env.Method != "start_vm_async" {
			t.Errorf("notified method = %q, want start_vm_async", env.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("expected start_vm_async to be sent to the agent")
	}

	tasks, err := st.ListTasks()
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListTasks() = %v, %v, want exactly one task", tasks, err)
	}
	if tasks[0].Status != types.TaskStatusRunning || tasks[0].TargetID != "vm-1" {
		t.Errorf("unexpected task: %+v", tasks[0])
	}
}

func TestApplyVMOperationCompletedResolvesTask(t *testing.T) {
	services, registry, st := newTestServices(t)

	vm := &types.VM{ID: "vm-1", Name: "test-vm", NodeID: "node-1", Status: types.VMStatusStopped}
	if err := st.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}
	registry.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[rpc.Envelope]())

	if err := services.VM.StartVM("vm-1"); err != nil {
		t.Fatalf("StartVM() error = %v", err)
	}
	tasks, _ := st.ListTasks()
	taskID := tasks[0].ID

	services.VM.ApplyVMOperationCompleted("vm-1", "start_vm", true, "", taskID)

	gotVM, _ := st.GetVM("vm-1")
	if gotVM.Status != types.VMStatusRunning {
		t.Errorf("vm.Status = %q, want running", gotVM.Status)
	}
	if gotVM.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	gotTask, err := st.GetTask(taskID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if gotTask.Status != types.TaskStatusCompleted {
		t.Errorf("task.Status = %q, want completed", gotTask.Status)
	}
}

func TestApplyVMOperationCompletedFailureMarksTaskFailed(t *testing.T) {
	services, registry, st := newTestServices(t)

	vm := &types.VM{ID: "vm-1", Name: "test-vm", NodeID: "node-1", Status: types.VMStatusStopped}
	if err := st.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}
	registry.Register("node-1", "host-a", "10.0.0.1", queue.NewUnbounded[rpc.Envelope]())

	if err := services.VM.StartVM("vm-1"); err != nil {
		t.Fatalf("StartVM() error = %v", err)
	}
	tasks, _ := st.ListTasks()
	taskID := tasks[0].ID

	services.VM.ApplyVMOperationCompleted("vm-1", "start_vm", false, "boom", taskID)

	gotVM, _ := st.GetVM("vm-1")
	if gotVM.Status != types.VMStatusError || gotVM.ErrorMessage != "boom" {
		t.Errorf("unexpected vm after failure: %+v", gotVM)
	}

	gotTask, _ := st.GetTask(taskID)
	if gotTask.Status != types.TaskStatusFailed || gotTask.ErrorMessage != "boom" {
		t.Errorf("unexpected task after failure: %+v", gotTask)
	}
}

func TestDeleteVMRejectsRunningVM(t *testing.T) {
	services, _, st := newTestServices(t)
	vm := &types.VM{ID: "vm-1", Status: types.VMStatusRunning}
	if err := st.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM() error = %v", err)
	}
	if err := services.VM.DeleteVM("vm-1"); err == nil {
		t.Fatal("expected DeleteVM to reject a running vm")
	}
}
