package controller

import (
	"encoding/json"

	"github.com/cuemby/hyperctl/pkg/rpc"
)

// RegisterHandlers binds every Agent-initiated method and notification
// named to services, so server only ever sees typed
// payloads decoded at this one boundary.
func RegisterHandlers(server *rpc.Server, services *Services) {
	server.HandleMethod("register", func(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
		var params struct {
			NodeID    string `json:"node_id"`
			Hostname  string `json:"hostname"`
			IPAddress string `json:"ip_address"`
		}
		if err := json.Unmarshal(payload, &params); err != nil {
			return nil, rpc.InvalidParams(err.Error())
		}
		node, err := services.Node.Register(params.NodeID, params.Hostname, params.IPAddress)
		if err != nil {
			return nil, rpc.InternalError(err)
		}
		return map[string]any{"node_id": node.ID, "status": node.Status}, nil
	})

	server.HandleMethod("get_storage_pool_info", func(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
		var params struct {
			PoolID string `json:"pool_id"`
		}
		if err := json.Unmarshal(payload, &params); err != nil {
			return nil, rpc.InvalidParams(err.Error())
		}
		pool, err := services.Volume.d.store.GetStoragePool(params.PoolID)
		if err != nil {
			return nil, rpc.NewErrorf(rpc.ErrStorageError, "storage pool not found: %s", params.PoolID)
		}
		return map[string]any{
			"pool_id": pool.ID,
			"name":    pool.Name,
			"kind":    pool.Kind,
			"config":  pool.Config,
		}, nil
	})

	server.HandleNotification("node_resource_info", func(nodeID string, payload json.RawMessage) {
		var params struct {
			CPUCores          int    `json:"cpu_cores"`
			CPUThreads        int    `json:"cpu_threads"`
			MemoryTotalBytes  int64  `json:"memory_total_bytes"`
			DiskTotalBytes    int64  `json:"disk_total_bytes"`
			HypervisorKind    string `json:"hypervisor_kind"`
			HypervisorVersion string `json:"hypervisor_version"`
		}
		if err := json.Unmarshal(payload, &params); err != nil {
			return
		}
		_ = services.Node.ApplyResourceInfo(nodeID, params.CPUCores, params.CPUThreads, params.MemoryTotalBytes, params.DiskTotalBytes, params.HypervisorKind, params.HypervisorVersion)
	})

	server.HandleNotification("vm_operation_completed", func(nodeID string, payload json.RawMessage) {
		var params struct {
			VMID      string `json:"vm_id"`
			Operation string `json:"operation"`
			Success   bool   `json:"success"`
			Message   string `json:"message"`
			TaskID    string `json:"task_id"`
		}
		if err := json.Unmarshal(payload, &params); err != nil {
			return
		}
		services.VM.ApplyVMOperationCompleted(params.VMID, params.Operation, params.Success, params.Message, params.TaskID)
	})

	server.HandleNotification("snapshot_operation_completed", func(nodeID string, payload json.RawMessage) {
		var params struct {
			SnapshotID string `json:"snapshot_id"`
			Operation  string `json:"operation"`
			Success    bool   `json:"success"`
			Message    string `json:"message"`
			TaskID     string `json:"task_id"`
		}
		if err := json.Unmarshal(payload, &params); err != nil {
			return
		}
		services.Snapshot.ApplySnapshotOperationCompleted(params.SnapshotID, params.Operation, params.Success, params.Message, params.TaskID)
	})

	server.HandleNotification("heartbeat", func(nodeID string, payload json.RawMessage) {
		if err := services.Node.Heartbeat(nodeID); err != nil {
			services.Node.d.log.Warn().Err(err).Str("node_id", nodeID).Msg("heartbeat for unknown node")
		}
	})
}
