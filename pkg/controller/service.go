// Package controller implements the Controller half of the system: the
// authoritative VM/volume/network/snapshot/node services, each a thin
// wrapper over the metadata store and the Agent RPC registry. A single
// Controller process is the whole control plane; there is no Raft/FSM
// replication layer.
package controller

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/push"
	"github.com/cuemby/hyperctl/pkg/rpc"
	"github.com/cuemby/hyperctl/pkg/store"
)

// DefaultCallTimeout is the per-request timeout for synchronous Agent RPCs.
// Volume create/clone use a much longer caller-supplied timeout (120-300s)
// instead, since image provisioning can run well past this default.
const DefaultCallTimeout = 30 * time.Second

// deps bundles the collaborators every service needs: the metadata store,
// the Agent registry, and the frontend push hub.
type deps struct {
	store    store.Store
	registry *rpc.Registry
	push     *push.Hub
	log      zerolog.Logger
}

// Services bundles every Controller-side service the API layer consumes.
type Services struct {
	VM       *VMService
	Volume   *VolumeService
	Network  *NetworkService
	Snapshot *SnapshotService
	Node     *NodeService
}

// NewServices wires every service around a shared store/registry/push hub.
func NewServices(st store.Store, registry *rpc.Registry, hub *push.Hub, log zerolog.Logger) *Services {
	d := deps{store: st, registry: registry, push: hub, log: log}
	return &Services{
		VM:       &VMService{d: d},
		Volume:   &VolumeService{d: d},
		Network:  &NetworkService{d: d},
		Snapshot: &SnapshotService{d: d},
		Node:     &NodeService{d: d},
	}
}
