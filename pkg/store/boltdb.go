package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/hyperctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes         = []byte("nodes")
	bucketStoragePools  = []byte("storage_pools")
	bucketVolumes       = []byte("volumes")
	bucketSnapshots     = []byte("snapshots")
	bucketNetworks      = []byte("networks")
	bucketIpAllocations = []byte("ip_allocations")
	bucketVMs           = []byte("vms")
	bucketTasks         = []byte("tasks")
)

// BoltStore implements Store on top of a single BoltDB file, one bucket per
// entity, upsert-as-create, JSON-marshaled values.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the control-plane database in
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hyperctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes,
			bucketStoragePools,
			bucketVolumes,
			bucketSnapshots,
			bucketNetworks,
			bucketIpAllocations,
			bucketVMs,
			bucketTasks,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(db *bolt.DB, bucket []byte, id string, v any) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func get(db *bolt.DB, bucket []byte, id string, out any, kind string) error {
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s not found: %s", kind, id)
		}
		return json.Unmarshal(data, out)
	})
}

func del(db *bolt.DB, bucket []byte, id string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error { return put(s.db, bucketNodes, node.ID, node) }

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var n types.Node
	if err := get(s.db, bucketNodes, id, &n, "node"); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error { return s.CreateNode(node) }

func (s *BoltStore) DeleteNode(id string) error { return del(s.db, bucketNodes, id) }

// Storage pool operations

func (s *BoltStore) CreateStoragePool(p *types.StoragePool) error {
	return put(s.db, bucketStoragePools, p.ID, p)
}

func (s *BoltStore) GetStoragePool(id string) (*types.StoragePool, error) {
	var p types.StoragePool
	if err := get(s.db, bucketStoragePools, id, &p, "storage pool"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListStoragePools() ([]*types.StoragePool, error) {
	var out []*types.StoragePool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStoragePools).ForEach(func(k, v []byte) error {
			var p types.StoragePool
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListStoragePoolsByNode(nodeID string) ([]*types.StoragePool, error) {
	pools, err := s.ListStoragePools()
	if err != nil {
		return nil, err
	}
	var out []*types.StoragePool
	for _, p := range pools {
		if p.NodeID == nodeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateStoragePool(p *types.StoragePool) error { return s.CreateStoragePool(p) }

func (s *BoltStore) DeleteStoragePool(id string) error { return del(s.db, bucketStoragePools, id) }

// Volume operations

func (s *BoltStore) CreateVolume(v *types.Volume) error { return put(s.db, bucketVolumes, v.ID, v) }

func (s *BoltStore) GetVolume(id string) (*types.Volume, error) {
	var v types.Volume
	if err := get(s.db, bucketVolumes, id, &v, "volume"); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	var out []*types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var vol types.Volume
			if err := json.Unmarshal(v, &vol); err != nil {
				return err
			}
			out = append(out, &vol)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListVolumesByPool(poolID string) ([]*types.Volume, error) {
	volumes, err := s.ListVolumes()
	if err != nil {
		return nil, err
	}
	var out []*types.Volume
	for _, v := range volumes {
		if v.PoolID == poolID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *BoltStore) ListVolumesByVM(vmID string) ([]*types.Volume, error) {
	volumes, err := s.ListVolumes()
	if err != nil {
		return nil, err
	}
	var out []*types.Volume
	for _, v := range volumes {
		if v.VMID == vmID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateVolume(v *types.Volume) error { return s.CreateVolume(v) }

func (s *BoltStore) DeleteVolume(id string) error { return del(s.db, bucketVolumes, id) }

// Snapshot operations

func (s *BoltStore) CreateSnapshot(sn *types.Snapshot) error {
	return put(s.db, bucketSnapshots, sn.ID, sn)
}

func (s *BoltStore) GetSnapshot(id string) (*types.Snapshot, error) {
	var sn types.Snapshot
	if err := get(s.db, bucketSnapshots, id, &sn, "snapshot"); err != nil {
		return nil, err
	}
	return &sn, nil
}

func (s *BoltStore) ListSnapshotsByVolume(volumeID string) ([]*types.Snapshot, error) {
	var out []*types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var sn types.Snapshot
			if err := json.Unmarshal(v, &sn); err != nil {
				return err
			}
			if sn.VolumeID == volumeID {
				out = append(out, &sn)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateSnapshot(sn *types.Snapshot) error { return s.CreateSnapshot(sn) }

func (s *BoltStore) DeleteSnapshot(id string) error { return del(s.db, bucketSnapshots, id) }

// Network operations

func (s *BoltStore) CreateNetwork(n *types.Network) error {
	return put(s.db, bucketNetworks, n.ID, n)
}

func (s *BoltStore) GetNetwork(id string) (*types.Network, error) {
	var n types.Network
	if err := get(s.db, bucketNetworks, id, &n, "network"); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNetworks() ([]*types.Network, error) {
	var out []*types.Network
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(k, v []byte) error {
			var n types.Network
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateNetwork(n *types.Network) error { return s.CreateNetwork(n) }

func (s *BoltStore) DeleteNetwork(id string) error { return del(s.db, bucketNetworks, id) }

// IP allocation operations

func (s *BoltStore) CreateIpAllocation(a *types.IpAllocation) error {
	return put(s.db, bucketIpAllocations, a.ID, a)
}

func (s *BoltStore) GetIpAllocation(id string) (*types.IpAllocation, error) {
	var a types.IpAllocation
	if err := get(s.db, bucketIpAllocations, id, &a, "ip allocation"); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListIpAllocationsByNetwork(networkID string) ([]*types.IpAllocation, error) {
	var out []*types.IpAllocation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIpAllocations).ForEach(func(k, v []byte) error {
			var a types.IpAllocation
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.NetworkID == networkID {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListIpAllocationsByVM(vmID string) ([]*types.IpAllocation, error) {
	var out []*types.IpAllocation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIpAllocations).ForEach(func(k, v []byte) error {
			var a types.IpAllocation
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.VMID == vmID {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateIpAllocation(a *types.IpAllocation) error { return s.CreateIpAllocation(a) }

func (s *BoltStore) DeleteIpAllocation(id string) error { return del(s.db, bucketIpAllocations, id) }

// VM operations

func (s *BoltStore) CreateVM(vm *types.VM) error { return put(s.db, bucketVMs, vm.ID, vm) }

func (s *BoltStore) GetVM(id string) (*types.VM, error) {
	var vm types.VM
	if err := get(s.db, bucketVMs, id, &vm, "vm"); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (s *BoltStore) ListVMs() ([]*types.VM, error) {
	var out []*types.VM
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).ForEach(func(k, v []byte) error {
			var vm types.VM
			if err := json.Unmarshal(v, &vm); err != nil {
				return err
			}
			out = append(out, &vm)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListVMsByNode(nodeID string) ([]*types.VM, error) {
	vms, err := s.ListVMs()
	if err != nil {
		return nil, err
	}
	var out []*types.VM
	for _, vm := range vms {
		if vm.NodeID == nodeID {
			out = append(out, vm)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateVM(vm *types.VM) error { return s.CreateVM(vm) }

func (s *BoltStore) DeleteVM(id string) error { return del(s.db, bucketVMs, id) }

// Task operations

func (s *BoltStore) CreateTask(t *types.Task) error { return put(s.db, bucketTasks, t.ID, t) }

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var t types.Task
	if err := get(s.db, bucketTasks, id, &t, "task"); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListTasksByTarget(targetType, targetID string) ([]*types.Task, error) {
	var out []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.TargetType == targetType && t.TargetID == targetID {
				out = append(out, &t)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateTask(t *types.Task) error { return s.CreateTask(t) }

func (s *BoltStore) DeleteTask(id string) error { return del(s.db, bucketTasks, id) }
