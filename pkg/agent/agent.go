// Package agent is the per-host counterpart to pkg/controller: it wraps an
// rpc.Client in the Controller-initiated methods and notifications named in
// dispatching each onto the effector/storage/netutil building blocks,
// mirroring the shape of this repo's previous worker.Worker (a transport
// client plus a handful of sub-handlers assembled in one constructor) minus
// the container-runtime and secrets/DNS concerns that domain carried.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/effector"
	"github.com/cuemby/hyperctl/pkg/netutil"
	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/storage"
)

// Config bundles everything needed to assemble an Agent, filled in by
// cmd/agent from flags/env vars.
type Config struct {
	NodeID            string
	Hostname          string
	IPAddress         string
	ServerURL         string
	ProviderInterface string
	DataDir           string
	HeartbeatInterval time.Duration
}

// Agent is the Agent-side process: one rpc.Client connection to the
// Controller, one Effector owning the libvirt handle, a lazily-populated
// storage driver registry, and a bridge wirer for network attachments.
type Agent struct {
	client  *rpc.Client
	fx      *effector.Effector
	storage *storage.Registry
	bridges *netutil.BridgeWirer
	dataDir string

	mu          sync.Mutex
	volumePools map[string]string // volume_id -> pool_id, learned at create_volume time

	log zerolog.Logger
}

// New assembles an Agent around an already-dialed Effector (the libvirt
// connection is opened once at process startup, not per-Agent-call).
func New(cfg Config, fx *effector.Effector, log zerolog.Logger) *Agent {
	client := rpc.NewClient(cfg.ServerURL, cfg.NodeID, cfg.Hostname, cfg.IPAddress, log)
	if cfg.HeartbeatInterval > 0 {
		client.HeartbeatInterval = cfg.HeartbeatInterval
	}

	a := &Agent{
		client:      client,
		fx:          fx,
		storage:     storage.NewRegistry(),
		bridges:     netutil.NewBridgeWirer(cfg.ProviderInterface),
		dataDir:     cfg.DataDir,
		volumePools: make(map[string]string),
		log:         log.With().Str("component", "agent").Logger(),
	}
	a.registerHandlers()
	return a
}

// Run connects to the Controller and serves until ctx is cancelled,
// reconnecting with backoff on any transport error (delegated to
// rpc.Client.Run). onConnect fires after every successful registration,
// including reconnects, per the reconnection policy.
func (a *Agent) Run(ctx context.Context) {
	a.client.Run(ctx, a.onConnect)
}

// onConnect sends a fresh node_resource_info notification right after
// register succeeds, so the Controller's Node row is never stale after a
// reconnect.
func (a *Agent) onConnect() {
	info, err := a.gatherResourceInfo()
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to gather host resource info")
		return
	}
	if rpcErr := a.client.Notify("node_resource_info", info); rpcErr != nil {
		a.log.Warn().Err(rpcErr).Msg("failed to send node_resource_info")
	}
}

func (a *Agent) registerHandlers() {
	a.client.HandleMethod("get_node_info", a.handleGetNodeInfo)
	a.client.HandleMethod("attach_interface", a.handleAttachInterface)
	a.client.HandleMethod("detach_interface", a.handleDetachInterface)
	a.client.HandleMethod("create_volume", a.handleCreateVolume)
	a.client.HandleMethod("delete_volume", a.handleDeleteVolume)
	a.client.HandleMethod("resize_volume", a.handleResizeVolume)
	a.client.HandleMethod("snapshot_volume", a.handleSnapshotVolume)
	a.client.HandleMethod("clone_volume", a.handleCloneVolume)
	a.client.HandleMethod("get_volume_info", a.handleGetVolumeInfo)
	a.client.HandleMethod("list_volumes", a.handleListVolumes)
	a.client.HandleMethod("attach_volume", a.handleAttachVolumeSync)
	a.client.HandleMethod("detach_volume", a.handleDetachVolumeSync)

	a.client.HandleNotification("start_vm_async", a.handleStartVMAsync)
	a.client.HandleNotification("stop_vm_async", a.handleStopVMAsync)
	a.client.HandleNotification("restart_vm_async", a.handleRestartVMAsync)
	a.client.HandleNotification("attach_volume_async", a.handleAttachVolumeAsync)
	a.client.HandleNotification("detach_volume_async", a.handleDetachVolumeAsync)
	a.client.HandleNotification("create_snapshot_async", a.handleCreateSnapshotAsync)
	a.client.HandleNotification("delete_snapshot_async", a.handleDeleteSnapshotAsync)
	a.client.HandleNotification("restore_snapshot_async", a.handleRestoreSnapshotAsync)
	a.client.HandleNotification("create_network", a.handleCreateNetwork)
	a.client.HandleNotification("delete_network", a.handleDeleteNetwork)
}
