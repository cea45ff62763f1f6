package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/hyperctl/pkg/effector"
	"github.com/cuemby/hyperctl/pkg/netutil"
	"github.com/cuemby/hyperctl/pkg/types"
)

// restartPauseDuration is how long handleRestartVMAsync waits between
// graceful stop and start, matching the Controller's documented
// stop-then-start restart protocol.
const restartPauseDuration = 2 * time.Second

type diskPayload struct {
	VolumeID   string `json:"volume_id"`
	Path       string `json:"path"`
	Format     string `json:"format"`
	BusType    string `json:"bus_type"`
	DeviceType string `json:"device_type"`
}

type nicPayload struct {
	NetworkID  string `json:"network_id"`
	MAC        string `json:"mac"`
	Model      string `json:"model"`
	BridgeName string `json:"bridge_name"`
}

type startVMPayload struct {
	VMID     string        `json:"vm_id"`
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	VCPU     int           `json:"vcpu"`
	MemoryMB int           `json:"memory_mb"`
	OSType   string        `json:"os_type"`
	Disks    []diskPayload `json:"disks"`
	Networks []nicPayload  `json:"networks"`
}

// handleStartVMAsync defines and boots the domain, wiring each interface's
// bridge before handing the configuration to the Effector, and reports
// completion back to the Controller so it can flip the VM row out of
// starting.
func (a *Agent) handleStartVMAsync(nodeID string, payload json.RawMessage) {
	var params startVMPayload
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("start_vm_async: invalid payload")
		return
	}

	go func() {
		err := a.startVM(params)
		a.reportVMCompletion(params.VMID, params.TaskID, "start_vm", err)
	}()
}

func (a *Agent) startVM(params startVMPayload) error {
	var disks []effector.DiskConfig
	for _, d := range params.Disks {
		disks = append(disks, effector.DiskConfig{
			VolumeID:   d.VolumeID,
			Path:       d.Path,
			Format:     types.VolumeKind(d.Format),
			BusType:    types.BusType(d.BusType),
			DeviceType: types.DeviceType(d.DeviceType),
		})
	}

	var nics []effector.NICConfig
	for _, n := range params.Networks {
		bridge, vlanID := netutil.InferBridgeName(n.BridgeName)
		if err := a.bridges.EnsureBridge(bridge, vlanID); err != nil {
			return err
		}
		nics = append(nics, effector.NICConfig{
			MAC:        n.MAC,
			Model:      n.Model,
			BridgeName: bridge,
		})
	}

	return a.fx.DefineAndStart(effector.VMConfig{
		ID:       params.VMID,
		Name:     params.Name,
		VCPU:     params.VCPU,
		MemoryMB: params.MemoryMB,
		OSType:   types.OSType(params.OSType),
		Disks:    disks,
		NICs:     nics,
	})
}

func (a *Agent) handleStopVMAsync(nodeID string, payload json.RawMessage) {
	var params struct {
		VMID   string `json:"vm_id"`
		TaskID string `json:"task_id"`
		Force  bool   `json:"force"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("stop_vm_async: invalid payload")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
		defer cancel()
		err := a.fx.Stop(ctx, params.VMID, params.Force)
		a.reportVMCompletion(params.VMID, params.TaskID, "stop_vm", err)
	}()
}

// handleRestartVMAsync performs a graceful stop, a fixed pause, and a start
// against the already-defined domain, reporting one aggregate completion.
func (a *Agent) handleRestartVMAsync(nodeID string, payload json.RawMessage) {
	var params struct {
		VMID   string `json:"vm_id"`
		TaskID string `json:"task_id"`
		Force  bool   `json:"force"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("restart_vm_async: invalid payload")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
		defer cancel()
		if err := a.fx.Stop(ctx, params.VMID, params.Force); err != nil {
			a.reportVMCompletion(params.VMID, params.TaskID, "restart_vm", err)
			return
		}
		time.Sleep(restartPauseDuration)
		err := a.fx.Start(params.VMID)
		a.reportVMCompletion(params.VMID, params.TaskID, "restart_vm", err)
	}()
}

func (a *Agent) handleAttachVolumeAsync(nodeID string, payload json.RawMessage) {
	var params struct {
		VMID     string `json:"vm_id"`
		TaskID   string `json:"task_id"`
		VolumeID string `json:"volume_id"`
		Path     string `json:"path"`
		Format   string `json:"format"`
		BusType  string `json:"bus_type"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("attach_volume_async: invalid payload")
		return
	}

	go func() {
		err := a.fx.AttachVolume(params.VMID, params.VolumeID, params.Path, types.VolumeKind(params.Format))
		a.reportVMCompletion(params.VMID, params.TaskID, "attach_volume", err)
	}()
}

func (a *Agent) handleDetachVolumeAsync(nodeID string, payload json.RawMessage) {
	var params struct {
		VMID     string `json:"vm_id"`
		TaskID   string `json:"task_id"`
		VolumeID string `json:"volume_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("detach_volume_async: invalid payload")
		return
	}

	go func() {
		err := a.fx.DetachVolume(params.VMID, params.VolumeID)
		a.reportVMCompletion(params.VMID, params.TaskID, "detach_volume", err)
	}()
}

// reportVMCompletion sends vm_operation_completed back to the Controller,
// echoing taskID so ApplyVMOperationCompleted can resolve the Task row by
// id instead of guessing from (vm_id, operation); delivery failures are
// only logged and not retried, so a lost report leaves the VM row in its
// transitional status on the Controller.
func (a *Agent) reportVMCompletion(vmID, taskID, operation string, err error) {
	message := ""
	success := err == nil
	if err != nil {
		message = err.Error()
		a.log.Error().Err(err).Str("vm_id", vmID).Str("operation", operation).Msg("vm operation failed")
	}
	payload := map[string]any{
		"vm_id":     vmID,
		"task_id":   taskID,
		"operation": operation,
		"success":   success,
		"message":   message,
	}
	if rpcErr := a.client.Notify("vm_operation_completed", payload); rpcErr != nil {
		a.log.Warn().Err(rpcErr).Str("vm_id", vmID).Msg("failed to report vm operation completion")
	}
}
