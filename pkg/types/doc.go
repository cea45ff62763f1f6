/*
Package types defines the core data structures shared across the Controller
and Agent: Node, StoragePool, Volume, Snapshot, Network, IpAllocation, VM, and
Task. These types are persisted verbatim as JSON by pkg/store and travel over
the wire as RPC payloads, so they carry no behavior beyond small helpers like
Network.BridgeName.

# Core Types

Node: a registered hypervisor host, its resource totals, and its heartbeat
status (online/offline).

StoragePool: an NFS-backed or other storage backend on a given Node.

Volume: a qcow2/raw disk image within a StoragePool, optionally attached to a
VM.

Snapshot: a point-in-time copy of a Volume, created/restored asynchronously
through the owning Node's Agent.

Network: an L2 network with a CIDR, gateway, and optional VLAN tag,
materialized on each Node as a Linux bridge.

IpAllocation: a single IP lease out of a Network's pool, tied to a VM's NIC.

VM: a libvirt domain definition (vCPU, memory, OS type, disks, NICs) plus its
current lifecycle status.

Task: a persisted record of an in-flight asynchronous operation (start/stop/
restart/attach/detach/snapshot), created when the Controller fires a
fire-and-forget notification to an Agent and resolved when that Agent reports
completion.

# Enumerations

Status and kind fields use typed string constants, e.g.:

	type VMStatus string
	const (
		VMStatusRunning VMStatus = "running"
		VMStatusStopped VMStatus = "stopped"
	)

# Thread Safety

These are plain data types with no internal locking. Mutations must be
synchronized by the caller; pkg/store's BoltStore serializes all reads and
writes through bbolt's own transaction locking.
*/
package types
