// Package effector is the Agent-side hypervisor effector: it translates
// declarative VM specs into libvirt domain XML and drives the running
// domain lifecycle (define/undefine/start/stop/hot-attach/hot-detach)
// through a single serialized libvirt connection.
package effector

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"sync"
	"time"

	libvirt "github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/types"
)

// Effector owns the single process-wide libvirt connection to
// qemu:///system, serialized behind a mutex so libvirt calls never
// interleave on the shared handle.
type Effector struct {
	mu  sync.Mutex
	lv  *libvirt.Libvirt
	log zerolog.Logger
}

// Dial opens the libvirt connection to qemu:///system through go-libvirt's
// default local socket and wraps it behind the Effector's mutex; the
// socketPath and ctx arguments are not used. The connection is long-lived: opening a
// libvirt connection is expensive, so this is done once at Agent startup,
// never per request.
func Dial(ctx context.Context, socketPath string, log zerolog.Logger) (*Effector, error) {
	lv, err := libvirt.ConnectToURI(libvirt.QEMUSystem)
	if err != nil {
		return nil, fmt.Errorf("connecting to libvirt: %w", err)
	}
	return &Effector{lv: lv, log: log.With().Str("component", "effector").Logger()}, nil
}

// Close releases the libvirt connection.
func (e *Effector) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lv.Disconnect()
}

// HypervisorVersion reports the hypervisor kind, always "kvm", and the
// libvirt library version as major.minor.release (the QEMU driver version
// is not queried), for population of Node.hypervisor_kind/hypervisor_version via
// node_resource_info (supplemented feature, per DESIGN.md).
func (e *Effector) HypervisorVersion() (kind string, version string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hv, err := e.lv.ConnectGetHostname()
	if err != nil {
		return "", "", fmt.Errorf("querying libvirt hostname: %w", err)
	}
	ver, err := e.lv.ConnectGetLibVersion()
	if err != nil {
		return "", "", fmt.Errorf("querying libvirt version: %w", err)
	}
	_ = hv
	return "kvm", formatLibvirtVersion(ver), nil
}

func formatLibvirtVersion(v uint64) string {
	major := v / 1000000
	minor := (v % 1000000) / 1000
	release := v % 1000
	return fmt.Sprintf("%d.%d.%d", major, minor, release)
}

// lookupDomain implements the domain lookup policy: look up by UUID
// first, falling back to name on failure. A domain found by neither is
// returned as (zero-value, false, nil), never as an error; callers decide
// whether that is a failure (Stop) or success (UndefineVM).
func (e *Effector) lookupDomain(uuidOrName string) (libvirt.Domain, bool, error) {
	dom, err := e.lv.DomainLookupByUUID(parseUUID(uuidOrName))
	if err == nil {
		return dom, true, nil
	}
	dom, err = e.lv.DomainLookupByName(uuidOrName)
	if err == nil {
		return dom, true, nil
	}
	return libvirt.Domain{}, false, nil
}

func parseUUID(s string) libvirt.UUID {
	var out libvirt.UUID
	clean := regexp.MustCompile(`[^0-9a-fA-F]`).ReplaceAllString(s, "")
	for i := 0; i < len(out) && i*2+1 < len(clean); i++ {
		fmt.Sscanf(clean[i*2:i*2+2], "%02x", &out[i])
	}
	return out
}

// DefineAndStart implements the "redefine then create" protocol: any
// pre-existing domain with the same UUID is undefined (destroying it first
// if running), the fresh XML is defined, and the domain is created. This
// guarantees the running domain's XML always matches the current spec.
func (e *Effector) DefineAndStart(cfg VMConfig) error {
	xmlDoc, err := GenerateDomainXML(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if dom, found, _ := e.lookupDomain(cfg.ID); found {
		if active, _, err := e.lv.DomainGetState(dom, 0); err == nil && active == int32(libvirt.DomainRunning) {
			if err := e.lv.DomainDestroy(dom); err != nil {
				return fmt.Errorf("destroying existing domain before redefine: %w", err)
			}
		}
		if err := e.lv.DomainUndefineFlags(dom, 0); err != nil {
			e.log.Warn().Err(err).Str("vm_id", cfg.ID).Msg("undefine before redefine failed, continuing")
		}
	}

	newDom, err := e.lv.DomainDefineXML(xmlDoc)
	if err != nil {
		return fmt.Errorf("defining domain xml: %w", err)
	}
	if err := e.lv.DomainCreate(newDom); err != nil {
		return fmt.Errorf("starting domain: %w", err)
	}
	return nil
}

// Stop implements the stop protocol. With force=true it destroys the
// domain immediately. Without force, it requests an ACPI shutdown and polls
// state every second for up to 30s, escalating to destroy if the domain
// hasn't reached SHUTOFF by then.
func (e *Effector) Stop(ctx context.Context, vmID string, force bool) error {
	e.mu.Lock()
	dom, found, _ := e.lookupDomain(vmID)
	e.mu.Unlock()
	if !found {
		return fmt.Errorf("vm not found: %s", vmID)
	}

	if force {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.lv.DomainDestroy(dom)
	}

	e.mu.Lock()
	err := e.lv.DomainShutdown(dom)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("requesting acpi shutdown: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		state, _, stateErr := e.lv.DomainGetState(dom, 0)
		e.mu.Unlock()
		if stateErr == nil && state == int32(libvirt.DomainShutoff) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.lv.DomainDestroy(dom); err != nil {
		return fmt.Errorf("escalating to destroy after shutdown timeout: %w", err)
	}
	return nil
}

// UndefineVM removes the domain definition. A missing domain is
// treated as success (final-state idempotence for migration cleanup).
func (e *Effector) UndefineVM(vmID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return nil
	}
	if active, _, err := e.lv.DomainGetState(dom, 0); err == nil && active == int32(libvirt.DomainRunning) {
		if err := e.lv.DomainDestroy(dom); err != nil {
			return fmt.Errorf("destroying running domain before undefine: %w", err)
		}
	}
	if err := e.lv.DomainUndefineFlags(dom, 0); err != nil {
		return fmt.Errorf("undefining domain: %w", err)
	}
	return nil
}

// IsRunning reports whether vmID's domain is currently in the RUNNING state.
func (e *Effector) IsRunning(vmID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return false, nil
	}
	state, _, err := e.lv.DomainGetState(dom, 0)
	if err != nil {
		return false, fmt.Errorf("querying domain state: %w", err)
	}
	return state == int32(libvirt.DomainRunning), nil
}

// liveDomainXML is the minimal shape used to parse occupied <target dev=>
// values and locate a disk by its <serial> out of a live domain's XML.
type liveDomainXML struct {
	Devices struct {
		Disks []struct {
			Device string `xml:"device,attr"`
			Driver struct {
				Name string `xml:"name,attr"`
				Type string `xml:"type,attr"`
			} `xml:"driver"`
			Source struct {
				File string `xml:"file,attr"`
			} `xml:"source"`
			Target struct {
				Dev string `xml:"dev,attr"`
				Bus string `xml:"bus,attr"`
			} `xml:"target"`
			Serial string `xml:"serial"`
		} `xml:"disk"`
		Interfaces []struct {
			Type string `xml:"type,attr"`
			MAC  struct {
				Address string `xml:"address,attr"`
			} `xml:"mac"`
			Source struct {
				Bridge string `xml:"bridge,attr"`
			} `xml:"source"`
			Model struct {
				Type string `xml:"type,attr"`
			} `xml:"model"`
		} `xml:"interface"`
	} `xml:"devices"`
}

var virtioDiskLetters = regexp.MustCompile(`^vd([a-z])$`)

// nextVirtioDevice parses a live domain's occupied <target dev=> values and
// returns the lowest unused vd{letter} name for hot attach.
func nextVirtioDevice(live liveDomainXML) string {
	used := make(map[string]bool)
	for _, d := range live.Devices.Disks {
		if m := virtioDiskLetters.FindStringSubmatch(d.Target.Dev); m != nil {
			used[m[1]] = true
		}
	}
	letters := "abcdefghijklmnopqrstuvwxyz"
	for _, l := range letters {
		if !used[string(l)] {
			return "vd" + string(l)
		}
	}
	return "vdz"
}

// AttachVolume hot-attaches volumePath as a new virtio disk on a running
// domain: only permitted when the domain is RUNNING. The device
// name is the lowest unused vd{letter}, and the disk carries
// <serial>volumeID</serial> as its only stable external identifier.
func (e *Effector) AttachVolume(vmID, volumeID, volumePath string, format types.VolumeKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return fmt.Errorf("vm not found: %s", vmID)
	}
	state, _, err := e.lv.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("querying domain state: %w", err)
	}
	if state != int32(libvirt.DomainRunning) {
		return fmt.Errorf("invalid params: domain %s is not running", vmID)
	}

	rawXML, err := e.lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return fmt.Errorf("reading live domain xml: %w", err)
	}
	var live liveDomainXML
	if err := xml.Unmarshal([]byte(rawXML), &live); err != nil {
		return fmt.Errorf("parsing live domain xml: %w", err)
	}

	dev := nextVirtioDevice(live)
	disk := diskXML{
		Type:   "file",
		Device: "disk",
		Driver: diskDriverXML{Name: "qemu", Type: string(format)},
		Source: diskSourceXML{File: volumePath},
		Target: diskTargetXML{Dev: dev, Bus: "virtio"},
		Serial: volumeID,
	}
	out, err := xml.Marshal(disk)
	if err != nil {
		return fmt.Errorf("marshaling hotplug disk xml: %w", err)
	}

	if err := e.lv.DomainAttachDevice(dom, string(out)); err != nil {
		return fmt.Errorf("attaching disk device: %w", err)
	}
	return nil
}

// DetachVolume hot-detaches the disk whose <serial> matches volumeID from
// a running domain. Detach is a no-op success if the serial is
// not present in the live XML (eventual consistency).
func (e *Effector) DetachVolume(vmID, volumeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return fmt.Errorf("vm not found: %s", vmID)
	}
	state, _, err := e.lv.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("querying domain state: %w", err)
	}
	if state != int32(libvirt.DomainRunning) {
		return fmt.Errorf("invalid params: domain %s is not running", vmID)
	}

	rawXML, err := e.lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return fmt.Errorf("reading live domain xml: %w", err)
	}
	var live liveDomainXML
	if err := xml.Unmarshal([]byte(rawXML), &live); err != nil {
		return fmt.Errorf("parsing live domain xml: %w", err)
	}

	var target *diskXML
	for _, d := range live.Devices.Disks {
		if d.Serial == volumeID {
			target = &diskXML{
				Type:   "file",
				Device: d.Device,
				Driver: diskDriverXML{Name: d.Driver.Name, Type: d.Driver.Type},
				Source: diskSourceXML{File: d.Source.File},
				Target: diskTargetXML{Dev: d.Target.Dev, Bus: d.Target.Bus},
				Serial: d.Serial,
			}
			break
		}
	}
	if target == nil {
		return nil // eventual consistency: already gone
	}

	out, err := xml.Marshal(target)
	if err != nil {
		return fmt.Errorf("marshaling hot-unplug disk xml: %w", err)
	}
	if err := e.lv.DomainDetachDevice(dom, string(out)); err != nil {
		return fmt.Errorf("detaching disk device: %w", err)
	}
	return nil
}

// Start creates an already-defined domain without redefining its XML, used
// by restart_vm_async: a graceful stop leaves the domain definition intact,
// so restart only needs DomainCreate, not the full DefineAndStart protocol.
func (e *Effector) Start(vmID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return fmt.Errorf("vm not found: %s", vmID)
	}
	if err := e.lv.DomainCreate(dom); err != nil {
		return fmt.Errorf("starting domain: %w", err)
	}
	return nil
}

// AttachInterface hot-attaches a NIC to a running domain, mirroring
// AttachVolume's live-XML-and-DomainAttachDevice shape for network_attach.
func (e *Effector) AttachInterface(vmID, mac, bridge, model string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return fmt.Errorf("vm not found: %s", vmID)
	}
	state, _, err := e.lv.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("querying domain state: %w", err)
	}
	if state != int32(libvirt.DomainRunning) {
		return fmt.Errorf("invalid params: domain %s is not running", vmID)
	}

	iface := interfaceXML{
		Type:   "bridge",
		MAC:    &macXML{Address: mac},
		Source: ifaceSourceXML{Bridge: bridge},
		Model:  ifaceModelXML{Type: model},
		Driver: &ifaceDriverXML{Name: "qemu"},
	}
	out, err := xml.Marshal(iface)
	if err != nil {
		return fmt.Errorf("marshaling hotplug interface xml: %w", err)
	}
	if err := e.lv.DomainAttachDevice(dom, string(out)); err != nil {
		return fmt.Errorf("attaching interface device: %w", err)
	}
	return nil
}

// DetachInterface hot-detaches the NIC whose MAC address matches mac from a
// running domain. Per the same eventual-consistency rule as DetachVolume, a
// mac not present in the live XML is a no-op success.
func (e *Effector) DetachInterface(vmID, mac string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dom, found, _ := e.lookupDomain(vmID)
	if !found {
		return fmt.Errorf("vm not found: %s", vmID)
	}
	state, _, err := e.lv.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("querying domain state: %w", err)
	}
	if state != int32(libvirt.DomainRunning) {
		return fmt.Errorf("invalid params: domain %s is not running", vmID)
	}

	rawXML, err := e.lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return fmt.Errorf("reading live domain xml: %w", err)
	}
	var live liveDomainXML
	if err := xml.Unmarshal([]byte(rawXML), &live); err != nil {
		return fmt.Errorf("parsing live domain xml: %w", err)
	}

	var target *interfaceXML
	for _, i := range live.Devices.Interfaces {
		if i.MAC.Address == mac {
			target = &interfaceXML{
				Type:   "bridge",
				MAC:    &macXML{Address: mac},
				Source: ifaceSourceXML{Bridge: i.Source.Bridge},
				Model:  ifaceModelXML{Type: i.Model.Type},
			}
			break
		}
	}
	if target == nil {
		return nil // eventual consistency: already gone
	}

	out, err := xml.Marshal(target)
	if err != nil {
		return fmt.Errorf("marshaling hot-unplug interface xml: %w", err)
	}
	if err := e.lv.DomainDetachDevice(dom, string(out)); err != nil {
		return fmt.Errorf("detaching interface device: %w", err)
	}
	return nil
}

