package storage

import (
	"context"
	"testing"

	"github.com/cuemby/hyperctl/pkg/types"
)

type fakeDriver struct{}

func (fakeDriver) CreateVolume(ctx context.Context, volumeID string, sizeGB int, format types.VolumeKind, sourceURL string) (string, error) {
	return "", nil
}
func (fakeDriver) DeleteVolume(ctx context.Context, volumeID string) error        { return nil }
func (fakeDriver) ResizeVolume(ctx context.Context, volumeID string, sizeGB int) error { return nil }
func (fakeDriver) GetVolumeInfo(ctx context.Context, volumeID string) (*VolumeInfo, error) {
	return nil, nil
}
func (fakeDriver) ListVolumes(ctx context.Context) ([]*VolumeInfo, error) { return nil, nil }
func (fakeDriver) CreateSnapshot(ctx context.Context, volumeID, snapshotName string) error {
	return nil
}
func (fakeDriver) CloneVolume(ctx context.Context, sourceVolumeID, newVolumeID string) (string, error) {
	return "", nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	d := fakeDriver{}
	r.Register("pool-1", d)

	got, ok := r.Get("pool-1")
	if !ok || got != d {
		t.Fatalf("Get(pool-1) = %v, %v, want %v, true", got, ok, d)
	}
	if _, ok := r.Get("pool-2"); ok {
		t.Error("expected pool-2 to be unregistered")
	}
}

func TestRegistrySingleOnlyWhenExactlyOne(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Single(); ok {
		t.Error("expected Single() to fail on empty registry")
	}

	r.Register("pool-1", fakeDriver{})
	d, ok := r.Single()
	if !ok || d == nil {
		t.Fatal("expected Single() to succeed with exactly one registration")
	}

	r.Register("pool-2", fakeDriver{})
	if _, ok := r.Single(); ok {
		t.Error("expected Single() to fail once a second pool is registered")
	}
}

func TestNewDriverForPoolNFS(t *testing.T) {
	d, err := NewDriverForPool(PoolInfo{
		PoolID:   "pool-1",
		PoolType: types.StoragePoolKindNFS,
		Config:   map[string]string{"mount_path": "/mnt/nfs"},
	})
	if err != nil {
		t.Fatalf("NewDriverForPool() error = %v", err)
	}
	if _, ok := d.(*NFSDriver); !ok {
		t.Errorf("NewDriverForPool(nfs) = %T, want *NFSDriver", d)
	}
}

func TestNewDriverForPoolUnsupportedKind(t *testing.T) {
	_, err := NewDriverForPool(PoolInfo{PoolType: types.StoragePoolKindCeph})
	if err == nil {
		t.Fatal("expected error for unsupported pool kind")
	}
	var unsupported *UnsupportedPoolKindError
	if !asUnsupported(err, &unsupported) {
		t.Errorf("expected *UnsupportedPoolKindError, got %T", err)
	}
}

func asUnsupported(err error, target **UnsupportedPoolKindError) bool {
	if e, ok := err.(*UnsupportedPoolKindError); ok {
		*target = e
		return true
	}
	return false
}
