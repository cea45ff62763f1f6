package controller

import (
	"fmt"
	"time"

	"github.com/cuemby/hyperctl/pkg/push"
	"github.com/cuemby/hyperctl/pkg/types"
)

// NodeService implements the node operations: registration,
// heartbeat bookkeeping, and resource-info ingestion. The reconciliation
// scan that evicts silent Nodes lives in reconciler.go, which calls back
// into this service's MarkOffline.
type NodeService struct {
	d deps
}

// Register upserts the Node row for a freshly connected Agent, per the
// registration-first-frame protocol. A Node unknown to the store is
// created; one already known transitions back to online.
func (s *NodeService) Register(nodeID, hostname, ip string) (*types.Node, error) {
	node, err := s.d.store.GetNode(nodeID)
	existed := err == nil
	if !existed {
		node = &types.Node{ID: nodeID}
	}
	node.Hostname = hostname
	node.IP = ip
	node.Status = types.NodeStatusOnline
	node.LastHeartbeat = time.Now()

	if existed {
		if err := s.d.store.UpdateNode(node); err != nil {
			return nil, fmt.Errorf("updating node %s: %w", nodeID, err)
		}
	} else if err := s.d.store.CreateNode(node); err != nil {
		return nil, fmt.Errorf("creating node %s: %w", nodeID, err)
	}

	s.d.push.Broadcast(push.Message{Type: push.TypeNodeStatusUpdate, NodeID: nodeID, Status: string(types.NodeStatusOnline)})
	return node, nil
}

// Heartbeat refreshes a Node's last-heartbeat instant and flips the Node
// back to online if it was in any other status; its other fields are left
// untouched.
func (s *NodeService) Heartbeat(nodeID string) error {
	node, err := s.d.store.GetNode(nodeID)
	if err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	node.LastHeartbeat = time.Now()
	if node.Status != types.NodeStatusOnline {
		node.Status = types.NodeStatusOnline
	}
	return s.d.store.UpdateNode(node)
}

// ApplyResourceInfo persists a node_resource_info notification's payload
// onto the Node row.
func (s *NodeService) ApplyResourceInfo(nodeID string, cpuCores, cpuThreads int, memoryTotalBytes, diskTotalBytes int64, hypervisorKind, hypervisorVersion string) error {
	node, err := s.d.store.GetNode(nodeID)
	if err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	node.CPUCores = cpuCores
	node.CPUThreads = cpuThreads
	node.MemoryTotalBytes = memoryTotalBytes
	node.DiskTotalBytes = diskTotalBytes
	node.HypervisorKind = hypervisorKind
	node.HypervisorVersion = hypervisorVersion
	return s.d.store.UpdateNode(node)
}

// MarkOffline flips a Node to offline, evicts its live AgentConnection from
// the registry (so in-flight Calls fail fast instead of waiting out their
// timeout), and broadcasts the transition; called by the reconciler once a
// Node's heartbeat has exceeded the timeout.
func (s *NodeService) MarkOffline(nodeID string) error {
	node, err := s.d.store.GetNode(nodeID)
	if err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	if node.Status == types.NodeStatusOffline {
		return nil
	}
	node.Status = types.NodeStatusOffline
	if err := s.d.store.UpdateNode(node); err != nil {
		return fmt.Errorf("persisting offline status: %w", err)
	}
	s.d.registry.Unregister(nodeID)
	s.d.push.Broadcast(push.Message{Type: push.TypeNodeStatusUpdate, NodeID: nodeID, Status: string(types.NodeStatusOffline)})
	return nil
}

// ListNodes returns every persisted Node.
func (s *NodeService) ListNodes() ([]*types.Node, error) {
	return s.d.store.ListNodes()
}

// GetNode returns a single Node by id.
func (s *NodeService) GetNode(nodeID string) (*types.Node, error) {
	return s.d.store.GetNode(nodeID)
}
