package effector

import (
	"strings"
	"testing"

	"github.com/cuemby/hyperctl/pkg/types"
)

func TestDiskDeviceNameVirtio(t *testing.T) {
	if got := DiskDeviceName(types.BusTypeVirtio, types.DeviceTypeDisk, 0); got != "vda" {
		t.Errorf("DiskDeviceName() = %q, want vda", got)
	}
	if got := DiskDeviceName(types.BusTypeVirtio, types.DeviceTypeDisk, 2); got != "vdc" {
		t.Errorf("DiskDeviceName() = %q, want vdc", got)
	}
}

func TestDiskDeviceNameSCSI(t *testing.T) {
	if got := DiskDeviceName(types.BusTypeSCSI, types.DeviceTypeDisk, 1); got != "sdb" {
		t.Errorf("DiskDeviceName() = %q, want sdb", got)
	}
}

func TestDiskDeviceNameCDROMAlwaysHD(t *testing.T) {
	if got := DiskDeviceName(types.BusTypeVirtio, types.DeviceTypeCDROM, 0); got != "hda" {
		t.Errorf("DiskDeviceName() = %q, want hda regardless of bus", got)
	}
}

func TestGenerateDomainXMLLinuxBasics(t *testing.T) {
	cfg := VMConfig{
		ID:       "vm-uuid-1",
		Name:     "test-vm",
		VCPU:     2,
		MemoryMB: 2048,
		OSType:   types.OSTypeLinux,
		Disks: []DiskConfig{
			{VolumeID: "vol-1", Path: "/data/vol-1.qcow2", Format: types.VolumeKindQcow2, BusType: types.BusTypeVirtio, DeviceType: types.DeviceTypeDisk},
		},
		NICs: []NICConfig{
			{MAC: "52:54:00:aa:bb:cc", BridgeName: "br-vlan10"},
		},
	}

	out, err := GenerateDomainXML(cfg)
	if err != nil {
		t.Fatalf("GenerateDomainXML() error = %v", err)
	}

	for _, want := range []string{
		`<name>test-vm</name>`,
		`<uuid>vm-uuid-1</uuid>`,
		`mode="host-passthrough"`,
		`bridge="br-vlan10"`,
		`address="52:54:00:aa:bb:cc"`,
		`dev="vda"`,
		`type="virtio"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hyperv") {
		t.Error("linux domain should not include hyperv enlightenments")
	}
}

func TestGenerateDomainXMLRejectsMalformedMAC(t *testing.T) {
	cfg := VMConfig{
		ID:       "vm-uuid-2",
		Name:     "bad-mac-vm",
		VCPU:     1,
		MemoryMB: 1024,
		OSType:   types.OSTypeLinux,
		NICs: []NICConfig{
			{MAC: "not-a-mac", BridgeName: "br0"},
		},
	}

	if _, err := GenerateDomainXML(cfg); err == nil {
		t.Fatal("expected GenerateDomainXML to reject a malformed MAC before embedding it")
	}
}

func TestGenerateDomainXMLWindowsEnlightenments(t *testing.T) {
	cfg := VMConfig{
		ID:       "vm-uuid-2",
		Name:     "win-vm",
		VCPU:     4,
		MemoryMB: 4096,
		OSType:   types.OSTypeWindows,
		Disks: []DiskConfig{
			{VolumeID: "vol-1", Path: "/data/vol-1.qcow2", Format: types.VolumeKindQcow2, BusType: types.BusTypeSCSI, DeviceType: types.DeviceTypeDisk},
		},
	}

	out, err := GenerateDomainXML(cfg)
	if err != nil {
		t.Fatalf("GenerateDomainXML() error = %v", err)
	}
	for _, want := range []string{
		`<hyperv mode="custom">`,
		`mode="host-model"`,
		`<controller type="scsi" index="0" model="virtio-scsi">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected windows output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestGenerateDomainXMLUnknownOSTypeTakesLinuxBranch(t *testing.T) {
	cfg := VMConfig{ID: "vm-3", Name: "mystery-os", VCPU: 1, MemoryMB: 512, OSType: types.OSType("freebsd")}
	out, err := GenerateDomainXML(cfg)
	if err != nil {
		t.Fatalf("GenerateDomainXML() error = %v", err)
	}
	if strings.Contains(out, "hyperv") {
		t.Error("unrecognized os_type should fall back to the linux branch, not windows")
	}
	if !strings.Contains(out, `mode="host-passthrough"`) {
		t.Error("unrecognized os_type should use host-passthrough cpu mode")
	}
}
