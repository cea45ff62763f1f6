package effector

import (
	"encoding/xml"
	"fmt"

	"github.com/cuemby/hyperctl/pkg/netutil"
	"github.com/cuemby/hyperctl/pkg/types"
)

// VMConfig is the pure-data input to GenerateDomainXML: everything the
// generator needs to know about a VM, resolved by the Controller into
// concrete values (paths, bridge names) before the start payload is sent.
type VMConfig struct {
	ID       string
	Name     string
	VCPU     int
	MemoryMB int
	OSType   types.OSType
	Disks    []DiskConfig
	NICs     []NICConfig
}

// DiskConfig is one resolved disk attachment: a volume's id, path, and
// on-disk format, positioned in the same order as VM.Volumes.
type DiskConfig struct {
	VolumeID   string
	Path       string
	Format     types.VolumeKind
	BusType    types.BusType
	DeviceType types.DeviceType
}

// NICConfig is one resolved network interface.
type NICConfig struct {
	MAC        string
	Model      string
	BridgeName string
}

// domainXML mirrors the libvirt domain XML schema via encoding/xml struct
// tags, following a "domain XML as a pure function" discipline: all conditionals in
// GenerateDomainXML are on enumerated fields, never ad hoc string
// comparison.
type domainXML struct {
	XMLName xml.Name `xml:"domain"`
	Type    string   `xml:"type,attr"`

	Name          string         `xml:"name"`
	UUID          string         `xml:"uuid"`
	Memory        memoryXML      `xml:"memory"`
	CurrentMemory memoryXML      `xml:"currentMemory"`
	VCPU          vcpuXML        `xml:"vcpu"`
	OS            osXML          `xml:"os"`
	Features       featuresXML   `xml:"features"`
	CPU            *cpuXML       `xml:"cpu,omitempty"`
	Clock          clockXML      `xml:"clock"`
	OnPoweroff     string        `xml:"on_poweroff"`
	OnReboot       string        `xml:"on_reboot"`
	OnCrash        string        `xml:"on_crash"`
	Devices        devicesXML    `xml:"devices"`
}

type memoryXML struct {
	Unit  string `xml:"unit,attr"`
	Value int    `xml:",chardata"`
}

type vcpuXML struct {
	Placement string `xml:"placement,attr"`
	Value     int    `xml:",chardata"`
}

type osXML struct {
	Type osTypeXML `xml:"type"`
}

type osTypeXML struct {
	Arch    string `xml:"arch,attr"`
	Machine string `xml:"machine,attr"`
	Value   string `xml:",chardata"`
}

type featuresXML struct {
	ACPI   *struct{}  `xml:"acpi"`
	APIC   *struct{}  `xml:"apic"`
	Hyperv *hypervXML `xml:"hyperv,omitempty"`
}

type hypervXML struct {
	Mode       string       `xml:"mode,attr"`
	Relaxed    onOffXML     `xml:"relaxed"`
	Vapic      onOffXML     `xml:"vapic"`
	Spinlocks  spinlocksXML `xml:"spinlocks"`
	VendorID   vendorIDXML  `xml:"vendor_id"`
	Vmport     vmportXML    `xml:"vmport"`
}

type onOffXML struct {
	State string `xml:"state,attr"`
}

type spinlocksXML struct {
	State   string `xml:"state,attr"`
	Retries int    `xml:"retries,attr"`
}

type vendorIDXML struct {
	State string `xml:"state,attr"`
	Value string `xml:"value,attr"`
}

type vmportXML struct {
	State string `xml:"state,attr"`
}

type cpuXML struct {
	Mode     string       `xml:"mode,attr"`
	Topology *topologyXML `xml:"topology,omitempty"`
	Features []cpuFeature `xml:"feature,omitempty"`
}

type topologyXML struct {
	Sockets int `xml:"sockets,attr"`
	Dies    int `xml:"dies,attr"`
	Cores   int `xml:"cores,attr"`
	Threads int `xml:"threads,attr"`
}

type cpuFeature struct {
	Policy string `xml:"policy,attr"`
	Name   string `xml:"name,attr"`
}

type clockXML struct {
	Offset string     `xml:"offset,attr"`
	Timers []timerXML `xml:"timer"`
}

type timerXML struct {
	Name    string `xml:"name,attr"`
	TickPolicy string `xml:"tickpolicy,attr,omitempty"`
	Present string `xml:"present,attr,omitempty"`
}

type devicesXML struct {
	Emulator    string           `xml:"emulator"`
	Disks       []diskXML        `xml:"disk"`
	Controllers []controllerXML  `xml:"controller"`
	Interfaces  []interfaceXML   `xml:"interface"`
	Serial      serialXML        `xml:"serial"`
	Console     consoleXML       `xml:"console"`
	Channel     channelXML       `xml:"channel"`
	Graphics    graphicsXML      `xml:"graphics"`
	Video       videoXML         `xml:"video"`
	Inputs      []inputXML       `xml:"input"`
}

type diskXML struct {
	XMLName  xml.Name      `xml:"disk"`
	Type     string        `xml:"type,attr"`
	Device   string        `xml:"device,attr"`
	Driver   diskDriverXML `xml:"driver"`
	Source   diskSourceXML `xml:"source"`
	Target   diskTargetXML `xml:"target"`
	Serial   string        `xml:"serial"`
	Address  *driveAddrXML `xml:"address,omitempty"`
}

type diskDriverXML struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Cache string `xml:"cache,attr,omitempty"`
	IO    string `xml:"io,attr,omitempty"`
}

type diskSourceXML struct {
	File string `xml:"file,attr"`
}

type diskTargetXML struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr"`
}

type driveAddrXML struct {
	Type       string `xml:"type,attr"`
	Controller string `xml:"controller,attr"`
	Bus        string `xml:"bus,attr"`
	Target     string `xml:"target,attr"`
	Unit       string `xml:"unit,attr"`
}

type controllerXML struct {
	Type  string `xml:"type,attr"`
	Index string `xml:"index,attr"`
	Model string `xml:"model,attr,omitempty"`
}

type interfaceXML struct {
	XMLName xml.Name        `xml:"interface"`
	Type    string          `xml:"type,attr"`
	MAC     *macXML         `xml:"mac,omitempty"`
	Source  ifaceSourceXML  `xml:"source"`
	Model   ifaceModelXML   `xml:"model"`
	Driver  *ifaceDriverXML `xml:"driver,omitempty"`
}

type macXML struct {
	Address string `xml:"address,attr"`
}

type ifaceSourceXML struct {
	Bridge string `xml:"bridge,attr"`
}

type ifaceModelXML struct {
	Type string `xml:"type,attr"`
}

type ifaceDriverXML struct {
	Name string `xml:"name,attr"`
}

type serialXML struct {
	Type string `xml:"type,attr"`
}

type consoleXML struct {
	Type string `xml:"type,attr"`
}

type channelXML struct {
	Type   string          `xml:"type,attr"`
	Target channelTargetXML `xml:"target"`
}

type channelTargetXML struct {
	Type string `xml:"type,attr"`
	Name string `xml:"name,attr"`
	Port string `xml:"port,attr,omitempty"`
}

type graphicsXML struct {
	Type     string `xml:"type,attr"`
	Autoport string `xml:"autoport,attr"`
	Listen   string `xml:"listen,attr"`
}

type videoXML struct {
	Model videoModelXML `xml:"model"`
}

type videoModelXML struct {
	Type   string `xml:"type,attr"`
	RAM    int    `xml:"ram,attr,omitempty"`
	VRAM   int    `xml:"vram,attr,omitempty"`
	VGAMem int    `xml:"vgamem,attr,omitempty"`
}

type inputXML struct {
	Type string `xml:"type,attr"`
	Bus  string `xml:"bus,attr"`
}

const machineType = "pc-q35-7.2"
const emulatorPath = "/usr/bin/qemu-system-x86_64"

// DiskDeviceName derives the device name libvirt exposes for the disk at
// position index in the VM's volume list: the naming is a
// deterministic function of (bus_type, device_type, index) so regenerating
// XML for the same ordered VolumeConfig list always yields byte-identical
// <target dev=> assignments.
func DiskDeviceName(bus types.BusType, device types.DeviceType, index int) string {
	letter := string(rune('a' + index))
	if device == types.DeviceTypeCDROM {
		return "hd" + letter
	}
	switch bus {
	case types.BusTypeVirtio:
		return "vd" + letter
	case types.BusTypeSCSI:
		return "sd" + letter
	default: // ide
		return "hd" + letter
	}
}

func busName(bus types.BusType, device types.DeviceType) string {
	if device == types.DeviceTypeCDROM {
		return "ide"
	}
	return string(bus)
}

// GenerateDomainXML builds a libvirt domain XML document from cfg. It is a
// total, pure function: every branch switches on an enumerated field
// (os_type, bus_type, device_type), never on ad hoc string matching. Any
// os_type other than "windows" takes the linux branch; an unresolved open
// question (resolved in DESIGN.md: unknown os_type values are treated as
// linux rather than rejected).
func GenerateDomainXML(cfg VMConfig) (string, error) {
	windows := cfg.OSType == types.OSTypeWindows

	dom := domainXML{
		Type: "kvm",
		Name: cfg.Name,
		UUID: cfg.ID,
		Memory: memoryXML{
			Unit:  "MiB",
			Value: cfg.MemoryMB,
		},
		CurrentMemory: memoryXML{
			Unit:  "MiB",
			Value: cfg.MemoryMB,
		},
		VCPU: vcpuXML{
			Placement: "static",
			Value:     cfg.VCPU,
		},
		OS: osXML{
			Type: osTypeXML{
				Arch:    "x86_64",
				Machine: machineType,
				Value:   "hvm",
			},
		},
		Features: featuresXML{
			ACPI: &struct{}{},
			APIC: &struct{}{},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
	}

	if windows {
		dom.CPU = &cpuXML{
			Mode: "host-model",
			Topology: &topologyXML{
				Sockets: 1,
				Dies:    1,
				Cores:   cfg.VCPU,
				Threads: 1,
			},
			Features: []cpuFeature{
				{Policy: "require", Name: "vmx"},
				{Policy: "require", Name: "svm"},
			},
		}
		dom.Features.Hyperv = &hypervXML{
			Mode:      "custom",
			Relaxed:   onOffXML{State: "on"},
			Vapic:     onOffXML{State: "on"},
			Spinlocks: spinlocksXML{State: "on", Retries: 8191},
			VendorID:  vendorIDXML{State: "on", Value: "Microsoft Hv"},
			Vmport:    vmportXML{State: "off"},
		}
		dom.Clock = clockXML{
			Offset: "localtime",
			Timers: []timerXML{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
				{Name: "hypervclock", Present: "yes"},
			},
		}
	} else {
		dom.CPU = &cpuXML{Mode: "host-passthrough"}
		dom.Clock = clockXML{
			Offset: "utc",
			Timers: []timerXML{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		}
	}

	needsSCSIController := false
	for i, disk := range cfg.Disks {
		dev := DiskDeviceName(disk.BusType, disk.DeviceType, i)
		driver := diskDriverXML{Name: "qemu", Type: string(disk.Format)}
		deviceKind := "disk"
		if disk.DeviceType == types.DeviceTypeCDROM {
			deviceKind = "cdrom"
			driver.Type = "raw"
		} else if windows {
			driver.Cache = "directsync"
			driver.IO = "native"
		} else {
			driver.Cache = "writeback"
		}

		diskElem := diskXML{
			Type:   "file",
			Device: deviceKind,
			Driver: driver,
			Source: diskSourceXML{File: disk.Path},
			Target: diskTargetXML{Dev: dev, Bus: busName(disk.BusType, disk.DeviceType)},
			Serial: disk.VolumeID,
		}
		if disk.DeviceType != types.DeviceTypeCDROM && disk.BusType == types.BusTypeSCSI {
			needsSCSIController = true
			diskElem.Address = &driveAddrXML{
				Type:       "drive",
				Controller: "0",
				Bus:        "0",
				Target:     "0",
				Unit:       fmt.Sprintf("%d", i),
			}
		}
		dom.Devices.Disks = append(dom.Devices.Disks, diskElem)
	}

	dom.Devices.Controllers = append(dom.Devices.Controllers, controllerXML{
		Type:  "virtio-serial",
		Index: "0",
	})
	if needsSCSIController {
		dom.Devices.Controllers = append(dom.Devices.Controllers, controllerXML{
			Type:  "scsi",
			Index: "0",
			Model: "virtio-scsi",
		})
	}

	for _, nic := range cfg.NICs {
		bridge := nic.BridgeName
		if bridge == "" {
			bridge = "virbr0"
		}
		model := nic.Model
		if model == "" {
			if windows {
				model = "e1000"
			} else {
				model = "virtio"
			}
		}
		ifaceElem := interfaceXML{
			Type:   "bridge",
			Source: ifaceSourceXML{Bridge: bridge},
			Model:  ifaceModelXML{Type: model},
		}
		if nic.MAC != "" {
			if _, err := netutil.ParseMAC(nic.MAC); err != nil {
				return "", fmt.Errorf("nic for bridge %s: %w", bridge, err)
			}
			ifaceElem.MAC = &macXML{Address: nic.MAC}
		}
		if windows {
			ifaceElem.Driver = &ifaceDriverXML{Name: "qemu"}
		}
		dom.Devices.Interfaces = append(dom.Devices.Interfaces, ifaceElem)
	}

	dom.Devices.Emulator = emulatorPath
	dom.Devices.Serial = serialXML{Type: "pty"}
	dom.Devices.Console = consoleXML{Type: "pty"}
	dom.Devices.Channel = channelXML{
		Type: "unix",
		Target: channelTargetXML{
			Type: "virtio",
			Name: "org.qemu.guest_agent.0",
			Port: "1",
		},
	}
	dom.Devices.Graphics = graphicsXML{Type: "vnc", Autoport: "yes", Listen: "0.0.0.0"}

	if windows {
		dom.Devices.Video = videoXML{Model: videoModelXML{Type: "cirrus", VRAM: 16384}}
		dom.Devices.Inputs = []inputXML{
			{Type: "mouse", Bus: "ps2"},
			{Type: "keyboard", Bus: "ps2"},
		}
	} else {
		dom.Devices.Video = videoXML{Model: videoModelXML{Type: "qxl", RAM: 65536, VRAM: 65536, VGAMem: 16384}}
		dom.Devices.Inputs = []inputXML{
			{Type: "tablet", Bus: "usb"},
			{Type: "mouse", Bus: "ps2"},
		}
	}

	out, err := xml.MarshalIndent(dom, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling domain xml: %w", err)
	}
	return xml.Header + string(out), nil
}
