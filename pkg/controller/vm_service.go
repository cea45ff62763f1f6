package controller

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/hyperctl/pkg/ipam"
	"github.com/cuemby/hyperctl/pkg/push"
	"github.com/cuemby/hyperctl/pkg/types"
)

// VMService implements the public VM lifecycle operations.
type VMService struct {
	d deps
}

// startAsyncTask persists a running Task row for a fire-and-forget Agent
// notification and stamps its id into payload so the Agent's completion
// report can carry it straight back, letting ApplyVMOperationCompleted
// resolve the Task by id instead of by a (vm_id, operation) guess.
func (s *VMService) startAsyncTask(taskType, nodeID, targetID string, payload map[string]any) (*types.Task, error) {
	now := time.Now()
	task := &types.Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Status:     types.TaskStatusRunning,
		TargetType: "vm",
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
func (s *VMService) finishTask(taskID string, success bool, message string) {
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

// CreateVMRequest is the caller-supplied intent for CreateVM.
type CreateVMRequest struct {
	Name     string
	NodeID   string
	VCPU     int
	MemoryMB int
	OSType   types.OSType
	Disks    []DiskRequest
	Networks []NetworkRequest
}

// DiskRequest references an existing, available Volume to attach at VM
// creation time.
type DiskRequest struct {
	VolumeID   string
	BusType    types.BusType
	DeviceType types.DeviceType
}

// NetworkRequest references a Network to attach an interface to.
type NetworkRequest struct {
	NetworkID string
	Model     string
}

// CreateVM is synchronous with respect to persistence, asynchronous with
// respect to hypervisor effect: it validates, reserves IPs, inserts the VM
// row, and flips volumes/IPs to their post-create state. A failure while
// reserving IPs, inserting the VM row or flipping volumes rolls back what
// was already done; a failure in the final IP-allocation step releases only
// the reservation that failed and keeps the VM row. No Agent call is issued;
// the VM's definition lives only in Controller state until the first start.
func (s *VMService) CreateVM(req CreateVMRequest) (*types.VM, error) {
	var volumes []*types.Volume
	for _, dreq := range req.Disks {
		v, err := s.d.store.GetVolume(dreq.VolumeID)
		if err != nil {
			return nil, fmt.Errorf("volume %s: %w", dreq.VolumeID, err)
		}
		if v.Status != types.VolumeStatusAvailable || v.VMID != "" {
			return nil, fmt.Errorf("volume %s is not available", dreq.VolumeID)
		}
		volumes = append(volumes, v)
	}

	var networks []*types.Network
	for _, nreq := range req.Networks {
		n, err := s.d.store.GetNetwork(nreq.NetworkID)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", nreq.NetworkID, err)
		}
		networks = append(networks, n)
	}

	// Step 2: reserve one IpAllocation per requested interface, lowest-ip
	// first, assigning a MAC and the derived bridge name.
	var reserved []*types.IpAllocation
	var interfaces []types.NetworkInterface
	rollbackReservations := func() {
		for _, a := range reserved {
			a.Status = types.IpAllocationStatusAvailable
			a.VMID = ""
			_ = s.d.store.UpdateIpAllocation(a)
		}
	}

	for i, nreq := range req.Networks {
		network := networks[i]
		candidates, err := s.d.store.ListIpAllocationsByNetwork(network.ID)
		if err != nil {
			rollbackReservations()
			return nil, fmt.Errorf("listing ip allocations for network %s: %w", network.ID, err)
		}
		alloc, err := ipam.PickLowest(candidates)
		if err != nil {
			rollbackReservations()
			return nil, fmt.Errorf("network %s: %w", network.ID, err)
		}
		alloc.Status = types.IpAllocationStatusReserved
		if err := s.d.store.UpdateIpAllocation(alloc); err != nil {
			rollbackReservations()
			return nil, fmt.Errorf("reserving ip allocation: %w", err)
		}
		reserved = append(reserved, alloc)

		mac := ipam.NextMAC()
		alloc.MACAddress = mac
		interfaces = append(interfaces, types.NetworkInterface{
			NetworkID:  network.ID,
			MAC:        mac,
			IP:         alloc.IPAddress,
			Model:      nreq.Model,
			BridgeName: network.BridgeName(),
		})
	}

	var attachments []types.VolumeAttachment
	for _, dreq := range req.Disks {
		attachments = append(attachments, types.VolumeAttachment{
			VolumeID:   dreq.VolumeID,
			BusType:    dreq.BusType,
			DeviceType: dreq.DeviceType,
		})
	}

	now := time.Now()
	vm := &types.VM{
		ID:                uuid.NewString(),
		Name:              req.Name,
		NodeID:            req.NodeID,
		Status:            types.VMStatusStopped,
		VCPU:              req.VCPU,
		MemoryMB:          req.MemoryMB,
		OSType:            req.OSType,
		Volumes:           attachments,
		NetworkInterfaces: interfaces,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Step 3: insert the VM row.
	if err := s.d.store.CreateVM(vm); err != nil {
		rollbackReservations()
		return nil, fmt.Errorf("persisting vm: %w", err)
	}

	// Step 4: flip each volume to in-use.
	var flippedVolumes []*types.Volume
	for _, v := range volumes {
		v.Status = types.VolumeStatusInUse
		v.VMID = vm.ID
		if err := s.d.store.UpdateVolume(v); err != nil {
			for _, fv := range flippedVolumes {
				fv.Status = types.VolumeStatusAvailable
				fv.VMID = ""
				_ = s.d.store.UpdateVolume(fv)
			}
			_ = s.d.store.DeleteVM(vm.ID)
			rollbackReservations()
			return nil, fmt.Errorf("flipping volume %s to in-use: %w", v.ID, err)
		}
		flippedVolumes = append(flippedVolumes, v)
	}

	// Step 5: transition each reserved allocation to allocated with vm_id set.
	for _, a := range reserved {
		a.Status = types.IpAllocationStatusAllocated
		a.VMID = vm.ID
		now := time.Now()
		a.AllocatedAt = &now
		if err := s.d.store.UpdateIpAllocation(a); err != nil {
			// release just this reservation; the VM row and
			// already-allocated siblings remain, since rollback scope
			// narrows once earlier allocations are already committed.
			a.Status = types.IpAllocationStatusAvailable
			a.VMID = ""
			a.AllocatedAt = nil
			_ = s.d.store.UpdateIpAllocation(a)
			return nil, fmt.Errorf("allocating ip %s: %w", a.IPAddress, err)
		}
	}

	return vm, nil
}

// UpdateVM persists metadata-only changes (name, vcpu, memory_mb); it never
// touches volumes, interfaces, or status.
func (s *VMService) UpdateVM(vmID, name string, vcpu, memoryMB int) (*types.VM, error) {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return nil, fmt.Errorf("vm %s: %w", vmID, err)
	}
	if name != "" {
		vm.Name = name
	}
	if vcpu > 0 {
		vm.VCPU = vcpu
	}
	if memoryMB > 0 {
		vm.MemoryMB = memoryMB
	}
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return nil, fmt.Errorf("persisting vm update: %w", err)
	}
	return vm, nil
}

// DeleteVM is rejected if the VM is running; it releases every allocated IP,
// flips attached volumes back to available, and deletes the VM row. No
// Agent call is issued.
func (s *VMService) DeleteVM(vmID string) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}
	if vm.Status == types.VMStatusRunning {
		return fmt.Errorf("cannot delete running vm %s", vmID)
	}

	allocations, err := s.d.store.ListIpAllocationsByVM(vmID)
	if err != nil {
		return fmt.Errorf("listing ip allocations for vm %s: %w", vmID, err)
	}
	for _, a := range allocations {
		a.Status = types.IpAllocationStatusAvailable
		a.VMID = ""
		a.AllocatedAt = nil
		if err := s.d.store.UpdateIpAllocation(a); err != nil {
			return fmt.Errorf("releasing ip allocation %s: %w", a.ID, err)
		}
	}

	volumes, err := s.d.store.ListVolumesByVM(vmID)
	if err != nil {
		return fmt.Errorf("listing volumes for vm %s: %w", vmID, err)
	}
	for _, v := range volumes {
		v.Status = types.VolumeStatusAvailable
		v.VMID = ""
		if err := s.d.store.UpdateVolume(v); err != nil {
			return fmt.Errorf("releasing volume %s: %w", v.ID, err)
		}
	}

	if err := s.d.store.DeleteVM(vmID); err != nil {
		return fmt.Errorf("deleting vm row: %w", err)
	}
	return nil
}

// buildStartPayload resolves the authoritative spec for start_vm_async: the
// VM's volumes with resolved path+format, and its interfaces with resolved
// bridge names.
func (s *VMService) buildStartPayload(vm *types.VM) (map[string]any, error) {
	var disks []map[string]any
	for _, va := range vm.Volumes {
		vol, err := s.d.store.GetVolume(va.VolumeID)
		if err != nil {
			return nil, fmt.Errorf("resolving volume %s: %w", va.VolumeID, err)
		}
		disks = append(disks, map[string]any{
			"volume_id":   vol.ID,
			"path":        vol.Path,
			"format":      vol.Kind,
			"bus_type":    va.BusType,
			"device_type": va.DeviceType,
		})
	}

	var nics []map[string]any
	for _, ni := range vm.NetworkInterfaces {
		nics = append(nics, map[string]any{
			"network_id":  ni.NetworkID,
			"mac":         ni.MAC,
			"model":       ni.Model,
			"bridge_name": ni.BridgeName,
		})
	}

	return map[string]any{
		"vm_id":     vm.ID,
		"name":      vm.Name,
		"vcpu":      vm.VCPU,
		"memory_mb": vm.MemoryMB,
		"os_type":   vm.OSType,
		"disks":     disks,
		"networks":  nics,
	}, nil
}

// StartVM is idempotent against a running (or already-starting) VM. It sets
// status=starting and fires start_vm_async; completion is applied later by
// ApplyVMOperationCompleted.
func (s *VMService) StartVM(vmID string) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}
	if vm.Status == types.VMStatusRunning || vm.Status == types.VMStatusStarting {
		return nil
	}

	payload, err := s.buildStartPayload(vm)
	if err != nil {
		return err
	}

	vm.Status = types.VMStatusStarting
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting starting status: %w", err)
	}

	if _, err := s.startAsyncTask("start_vm", vm.NodeID, vm.ID, payload); err != nil {
		return err
	}

	if rpcErr := s.d.registry.Notify(vm.NodeID, "start_vm_async", payload); rpcErr != nil {
		vm.Status = types.VMStatusError
		vm.ErrorMessage = rpcErr.Error()
		_ = s.d.store.UpdateVM(vm)
		return fmt.Errorf("notifying agent to start vm: %w", rpcErr)
	}
	return nil
}

// StopVM is idempotent against stopped. It sets status=stopping and fires
// stop_vm_async{vm_id, force}.
func (s *VMService) StopVM(vmID string, force bool) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}
	if vm.Status == types.VMStatusStopped {
		return nil
	}

	vm.Status = types.VMStatusStopping
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting stopping status: %w", err)
	}

	payload := map[string]any{"vm_id": vm.ID, "force": force}
	if _, err := s.startAsyncTask("stop_vm", vm.NodeID, vm.ID, payload); err != nil {
		return err
	}
	if rpcErr := s.d.registry.Notify(vm.NodeID, "stop_vm_async", payload); rpcErr != nil {
		vm.Status = types.VMStatusError
		vm.ErrorMessage = rpcErr.Error()
		_ = s.d.store.UpdateVM(vm)
		return fmt.Errorf("notifying agent to stop vm: %w", rpcErr)
	}
	return nil
}

// RestartVM sets status=restarting and fires restart_vm_async{vm_id,
// force:false}; the Agent performs a graceful stop, 2s pause, then start,
// and reports one aggregate completion.
func (s *VMService) RestartVM(vmID string) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}

	vm.Status = types.VMStatusRestarting
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting restarting status: %w", err)
	}

	payload := map[string]any{"vm_id": vm.ID, "force": false}
	if _, err := s.startAsyncTask("restart_vm", vm.NodeID, vm.ID, payload); err != nil {
		return err
	}
	if rpcErr := s.d.registry.Notify(vm.NodeID, "restart_vm_async", payload); rpcErr != nil {
		vm.Status = types.VMStatusError
		vm.ErrorMessage = rpcErr.Error()
		_ = s.d.store.UpdateVM(vm)
		return fmt.Errorf("notifying agent to restart vm: %w", rpcErr)
	}
	return nil
}

// AttachVolume persists the volumes-list mutation first, then, only if the
// VM is running, notifies the Agent to hot-plug the device. If the VM is
// stopped, no Agent call is issued: the next start_vm regenerates XML and
// picks up the new layout.
func (s *VMService) AttachVolume(vmID, volumeID string, bus types.BusType, device types.DeviceType) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}
	vol, err := s.d.store.GetVolume(volumeID)
	if err != nil {
		return fmt.Errorf("volume %s: %w", volumeID, err)
	}
	if vol.Status != types.VolumeStatusAvailable {
		return fmt.Errorf("volume %s is not available", volumeID)
	}

	vm.Volumes = append(vm.Volumes, types.VolumeAttachment{VolumeID: volumeID, BusType: bus, DeviceType: device})
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting volume attachment: %w", err)
	}
	vol.Status = types.VolumeStatusInUse
	vol.VMID = vmID
	if err := s.d.store.UpdateVolume(vol); err != nil {
		return fmt.Errorf("flipping volume to in-use: %w", err)
	}

	if vm.Status != types.VMStatusRunning {
		return nil
	}

	payload := map[string]any{
		"vm_id":     vmID,
		"volume_id": volumeID,
		"path":      vol.Path,
		"format":    vol.Kind,
		"bus_type":  bus,
	}
	if _, err := s.startAsyncTask("attach_volume", vm.NodeID, vm.ID, payload); err != nil {
		return err
	}
	if rpcErr := s.d.registry.Notify(vm.NodeID, "attach_volume_async", payload); rpcErr != nil {
		return fmt.Errorf("notifying agent to attach volume: %w", rpcErr)
	}
	return nil
}

// DetachVolume persists the volumes-list mutation first (idempotent if the
// spec entry is already missing), then notifies the Agent if the VM is
// running.
func (s *VMService) DetachVolume(vmID, volumeID string) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}

	found := false
	remaining := vm.Volumes[:0]
	for _, va := range vm.Volumes {
		if va.VolumeID == volumeID {
			found = true
			continue
		}
		remaining = append(remaining, va)
	}
	vm.Volumes = remaining
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting volume detachment: %w", err)
	}

	if vol, err := s.d.store.GetVolume(volumeID); err == nil {
		vol.Status = types.VolumeStatusAvailable
		vol.VMID = ""
		if err := s.d.store.UpdateVolume(vol); err != nil {
			return fmt.Errorf("flipping volume to available: %w", err)
		}
	}

	if !found {
		return nil // already absent: idempotent success 
	}

	if vm.Status != types.VMStatusRunning {
		return nil
	}

	payload := map[string]any{"vm_id": vmID, "volume_id": volumeID}
	if _, err := s.startAsyncTask("detach_volume", vm.NodeID, vm.ID, payload); err != nil {
		return err
	}
	if rpcErr := s.d.registry.Notify(vm.NodeID, "detach_volume_async", payload); rpcErr != nil {
		return fmt.Errorf("notifying agent to detach volume: %w", rpcErr)
	}
	return nil
}

// MigrateVM reassigns node_id to the target node in metadata only: it sets
// status=migrating, then persists the new node_id together with status
// running (live) or stopped. No Agent call is issued and no Agent
// confirmation is awaited, so the domain itself is not moved between hosts.
func (s *VMService) MigrateVM(vmID, targetNodeID string, live bool) error {
	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		return fmt.Errorf("vm %s: %w", vmID, err)
	}

	vm.Status = types.VMStatusMigrating
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting migrating status: %w", err)
	}

	vm.NodeID = targetNodeID
	if live {
		vm.Status = types.VMStatusRunning
	} else {
		vm.Status = types.VMStatusStopped
	}
	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		return fmt.Errorf("persisting post-migration status: %w", err)
	}
	return nil
}

// ApplyVMOperationCompleted is the single dispatcher for
// vm_operation_completed notifications: it matches on operation,
// updates VM status and timestamps, resolves the originating Task (if the
// Agent echoed one back), and broadcasts a VmStatusUpdate to every
// connected frontend.
func (s *VMService) ApplyVMOperationCompleted(vmID, operation string, success bool, message, taskID string) {
	defer s.finishTask(taskID, success, message)

	vm, err := s.d.store.GetVM(vmID)
	if err != nil {
		s.d.log.Warn().Err(err).Str("vm_id", vmID).Msg("completion notification for unknown vm")
		return
	}

	switch operation {
	case "start_vm":
		if success {
			vm.Status = types.VMStatusRunning
			now := time.Now()
			vm.StartedAt = &now
		} else {
			vm.Status = types.VMStatusError
			vm.ErrorMessage = message
		}
	case "stop_vm":
		if success {
			vm.Status = types.VMStatusStopped
		} else {
			vm.Status = types.VMStatusError
			vm.ErrorMessage = message
		}
	case "restart_vm":
		if success {
			vm.Status = types.VMStatusRunning
			now := time.Now()
			vm.StartedAt = &now
		} else {
			vm.Status = types.VMStatusError
			vm.ErrorMessage = message
		}
	case "attach_volume", "detach_volume":
		if !success {
			vm.Status = types.VMStatusError
			vm.ErrorMessage = message
		}
	default:
		s.d.log.Warn().Str("operation", operation).Msg("unrecognized vm_operation_completed operation")
		return
	}

	vm.UpdatedAt = time.Now()
	if err := s.d.store.UpdateVM(vm); err != nil {
		s.d.log.Error().Err(err).Str("vm_id", vmID).Msg("failed to persist completion status")
		return
	}

	status := "error"
	if success {
		status = string(vm.Status)
	}
	s.d.push.Broadcast(push.Message{
		Type:    push.TypeVMStatusUpdate,
		VMID:    vm.ID,
		Status:  status,
		Message: message,
	})
}
