package agent

import (
	"encoding/json"

	"github.com/cuemby/hyperctl/pkg/netutil"
	"github.com/cuemby/hyperctl/pkg/rpc"
)

// handleCreateNetwork and handleDeleteNetwork answer the Controller's
// create_network/delete_network broadcasts (rpc.Registry.Broadcast fans out
// as a Notify to every connected Agent, not a request/response call), each
// pre-wiring or tearing down the bridge this Node will need once a VM on
// that network is placed here.
func (a *Agent) handleCreateNetwork(nodeID string, payload json.RawMessage) {
	var params struct {
		Bridge string `json:"bridge"`
		VLANID *int   `json:"vlan_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("create_network: invalid payload")
		return
	}
	if err := a.bridges.EnsureBridge(params.Bridge, params.VLANID); err != nil {
		a.log.Error().Err(err).Str("bridge", params.Bridge).Msg("failed to wire bridge for create_network")
	}
}

func (a *Agent) handleDeleteNetwork(nodeID string, payload json.RawMessage) {
	var params struct {
		Bridge string `json:"bridge"`
		VLANID *int   `json:"vlan_id"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		a.log.Error().Err(err).Msg("delete_network: invalid payload")
		return
	}
	if err := a.bridges.RemoveBridge(params.Bridge, params.VLANID); err != nil {
		a.log.Warn().Err(err).Str("bridge", params.Bridge).Msg("failed to remove bridge for delete_network")
	}
}

// handleAttachInterface and handleDetachInterface hot-plug/unplug a single
// NIC against an already-running domain, wiring the bridge first so the
// attach always has somewhere to land.
func (a *Agent) handleAttachInterface(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VMID   string `json:"vm_id"`
		MAC    string `json:"mac"`
		Bridge string `json:"bridge"`
		Model  string `json:"model"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}

	bridge, vlanID := netutil.InferBridgeName(params.Bridge)
	if err := a.bridges.EnsureBridge(bridge, vlanID); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrNetworkError, "%v", err)
	}
	if err := a.fx.AttachInterface(params.VMID, params.MAC, bridge, params.Model); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVMOperationFailed, "%v", err)
	}
	return map[string]any{"attached": true}, nil
}

func (a *Agent) handleDetachInterface(nodeID string, payload json.RawMessage) (any, *rpc.RPCError) {
	var params struct {
		VMID string `json:"vm_id"`
		MAC  string `json:"mac"`
	}
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, rpc.InvalidParams(err.Error())
	}
	if err := a.fx.DetachInterface(params.VMID, params.MAC); err != nil {
		return nil, rpc.NewErrorf(rpc.ErrVMOperationFailed, "%v", err)
	}
	return map[string]any{"detached": true}, nil
}
