// Package types defines the entities shared by the Controller and Agent:
// the persisted data model. The in-memory AgentConnection record lives in
// pkg/rpc, not here.
package types

import (
	"strconv"
	"time"
)

// NodeStatus is the lifecycle status of a hypervisor host.
type NodeStatus string

const (
	NodeStatusOnline      NodeStatus = "online"
	NodeStatusOffline     NodeStatus = "offline"
	NodeStatusMaintenance NodeStatus = "maintenance"
	NodeStatusError       NodeStatus = "error"
)

// Node is a hypervisor host known to the Controller.
type Node struct {
	ID                string            `json:"id"`
	Hostname          string            `json:"hostname"`
	IP                string            `json:"ip"`
	Status            NodeStatus        `json:"status"`
	HypervisorKind    string            `json:"hypervisor_kind"`
	HypervisorVersion string            `json:"hypervisor_version"`
	CPUCores          int               `json:"cpu_cores"`
	CPUThreads        int               `json:"cpu_threads"`
	MemoryTotalBytes  int64             `json:"memory_total_bytes"`
	DiskTotalBytes    int64             `json:"disk_total_bytes"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// StoragePoolKind enumerates the backend types a StoragePool can wrap.
// Only StoragePoolKindNFS is implemented by the Agent effector.
type StoragePoolKind string

const (
	StoragePoolKindNFS   StoragePoolKind = "nfs"
	StoragePoolKindLVM   StoragePoolKind = "lvm"
	StoragePoolKindCeph  StoragePoolKind = "ceph"
	StoragePoolKindISCSI StoragePoolKind = "iscsi"
)

// StoragePoolStatus is the lifecycle status of a StoragePool.
type StoragePoolStatus string

const (
	StoragePoolStatusActive   StoragePoolStatus = "active"
	StoragePoolStatusInactive StoragePoolStatus = "inactive"
	StoragePoolStatusError    StoragePoolStatus = "error"
)

// StoragePool is a named storage backend on a specific Node. Every Volume
// belongs to exactly one StoragePool; deletion requires an empty pool.
type StoragePool struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        StoragePoolKind   `json:"kind"`
	Status      StoragePoolStatus `json:"status"`
	Config      map[string]string `json:"config,omitempty"` // e.g. mount_path for nfs
	CapacityGB  float64           `json:"capacity_gb"`
	AllocatedGB float64           `json:"allocated_gb"`
	AvailableGB float64           `json:"available_gb"`
	NodeID      string            `json:"node_id"`
}

// VolumeKind is the on-disk image format of a Volume.
type VolumeKind string

const (
	VolumeKindQcow2 VolumeKind = "qcow2"
	VolumeKindRaw   VolumeKind = "raw"
)

// VolumeStatus is the lifecycle status of a Volume.
type VolumeStatus string

const (
	VolumeStatusCreating  VolumeStatus = "creating"
	VolumeStatusAvailable VolumeStatus = "available"
	VolumeStatusInUse     VolumeStatus = "in-use"
	VolumeStatusDeleting  VolumeStatus = "deleting"
	VolumeStatusError     VolumeStatus = "error"
)

// Volume is a block image file backing a VM disk. Invariant: status=in-use
// iff vm_id is set; path is populated by the Agent after creation succeeds.
type Volume struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      VolumeKind   `json:"kind"`
	SizeGB    int          `json:"size_gb"`
	PoolID    string       `json:"pool_id"`
	Path      string       `json:"path,omitempty"`
	Status    VolumeStatus `json:"status"`
	VMID      string       `json:"vm_id,omitempty"`
	SourceURL string       `json:"source_url,omitempty"`
}

// SnapshotStatus is the lifecycle status of a Snapshot.
type SnapshotStatus string

const (
	SnapshotStatusCreating  SnapshotStatus = "creating"
	SnapshotStatusAvailable SnapshotStatus = "available"
	SnapshotStatusDeleting  SnapshotStatus = "deleting"
	SnapshotStatusError     SnapshotStatus = "error"
)

// Snapshot is a point-in-time state of a Volume, restorable only while the
// parent volume is not in-use.
type Snapshot struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	VolumeID    string         `json:"volume_id"`
	Status      SnapshotStatus `json:"status"`
	SizeGB      int            `json:"size_gb"`
	SnapshotTag string         `json:"snapshot_tag,omitempty"`
	Description string         `json:"description,omitempty"`
}

// NetworkKind enumerates the L2 broadcast domain implementation. Only
// NetworkKindBridge is implemented by the Agent effector.
type NetworkKind string

const (
	NetworkKindBridge  NetworkKind = "bridge"
	NetworkKindOVS     NetworkKind = "ovs"
	NetworkKindMacvlan NetworkKind = "macvlan"
)

// Network is an L2 broadcast domain with an IPv4 allocation pool. Deletion
// is forbidden while any allocated IP exists.
type Network struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Kind     NetworkKind       `json:"kind"`
	CIDR     string            `json:"cidr"`
	Gateway  string            `json:"gateway"`
	MTU      int               `json:"mtu"`
	VLANID   *int              `json:"vlan_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BridgeName derives the bridge device name for the Network: "br-vlan{id}"
// if vlan_id is set, else "br-default".
func (n *Network) BridgeName() string {
	if n.VLANID != nil {
		return "br-vlan" + strconv.Itoa(*n.VLANID)
	}
	return "br-default"
}

// IpAllocationStatus is the lifecycle status of an IpAllocation.
type IpAllocationStatus string

const (
	IpAllocationStatusAvailable IpAllocationStatus = "available"
	IpAllocationStatusReserved  IpAllocationStatus = "reserved"
	IpAllocationStatusAllocated IpAllocationStatus = "allocated"
)

// IpAllocation is a single IPv4 address in a Network's pre-seeded pool.
// Lifecycle: available -> reserved (IP grab during create_vm) ->
// allocated (VM row persisted) -> available (VM deletion).
type IpAllocation struct {
	ID          string             `json:"id"`
	NetworkID   string             `json:"network_id"`
	IPAddress   string             `json:"ip_address"`
	MACAddress  string             `json:"mac_address,omitempty"`
	VMID        string             `json:"vm_id,omitempty"`
	Status      IpAllocationStatus `json:"status"`
	AllocatedAt *time.Time         `json:"allocated_at,omitempty"`
}

// VMStatus is the lifecycle status of a VM, authoritative on the Controller.
type VMStatus string

const (
	VMStatusStopped    VMStatus = "stopped"
	VMStatusStarting   VMStatus = "starting"
	VMStatusRunning    VMStatus = "running"
	VMStatusStopping   VMStatus = "stopping"
	VMStatusRestarting VMStatus = "restarting"
	VMStatusPaused     VMStatus = "paused"
	VMStatusMigrating  VMStatus = "migrating"
	VMStatusError      VMStatus = "error"
)

// OSType selects the CPU/clock/feature branch of the domain XML generator.
// Any value other than linux/windows silently takes the linux branch
// (open question in the design notes; see DESIGN.md).
type OSType string

const (
	OSTypeLinux   OSType = "linux"
	OSTypeWindows OSType = "windows"
)

// BusType is the virtual disk controller a VolumeAttachment is wired to.
type BusType string

const (
	BusTypeVirtio BusType = "virtio"
	BusTypeSCSI   BusType = "scsi"
	BusTypeIDE    BusType = "ide"
)

// DeviceType distinguishes a regular disk from a cdrom device.
type DeviceType string

const (
	DeviceTypeDisk  DeviceType = "disk"
	DeviceTypeCDROM DeviceType = "cdrom"
)

// VolumeAttachment binds a Volume into a VM's disk list at a fixed position;
// the position in the slice determines disk device naming .
type VolumeAttachment struct {
	VolumeID   string     `json:"volume_id"`
	BusType    BusType    `json:"bus_type"`
	DeviceType DeviceType `json:"device_type"`
}

// NetworkInterface binds a Network into a VM's interface list.
type NetworkInterface struct {
	NetworkID  string `json:"network_id"`
	MAC        string `json:"mac,omitempty"`
	IP         string `json:"ip,omitempty"`
	Model      string `json:"model,omitempty"`
	BridgeName string `json:"bridge_name,omitempty"`
}

// VM is a virtual machine; its ID doubles as the libvirt domain UUID.
type VM struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	NodeID            string             `json:"node_id"`
	Status            VMStatus           `json:"status"`
	VCPU              int                `json:"vcpu"`
	MemoryMB          int                `json:"memory_mb"`
	OSType            OSType             `json:"os_type"`
	Volumes           []VolumeAttachment `json:"volumes"`
	NetworkInterfaces []NetworkInterface `json:"network_interfaces"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
}

// TaskStatus is the lifecycle status of an async Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task tracks an asynchronous unit of work fired as an Agent notification;
// terminal on the matching completion notification.
type Task struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Status       TaskStatus     `json:"status"`
	Progress     int            `json:"progress"`
	TargetType   string         `json:"target_type"`
	TargetID     string         `json:"target_id"`
	NodeID       string         `json:"node_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
