// Package netutil wires Linux bridges and VLAN subinterfaces for the
// Agent's network attachments via `ip link` subprocess invocations,
// adapted from the idempotent-subprocess idiom of this repo's previous
// host-port publisher: every step checks "does this already exist?" before
// mutating, and cleanup never treats a failure as fatal.
package netutil

import (
	"bytes"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/google/gopacket"
)

// BridgeWirer configures bridges and VLAN subinterfaces for Network
// attachments. ProviderInterface is the host NIC VLAN subinterfaces are
// created on (NETWORK_PROVIDER_INTERFACE, default eth0).
type BridgeWirer struct {
	ProviderInterface string
}

// NewBridgeWirer constructs a wirer bound to the given provider interface.
func NewBridgeWirer(providerInterface string) *BridgeWirer {
	if providerInterface == "" {
		providerInterface = "eth0"
	}
	return &BridgeWirer{ProviderInterface: providerInterface}
}

// EnsureBridge implements the bridge/VLAN wiring steps: create the
// bridge if missing, create and enslave a VLAN subinterface if vlanID is
// set (else enslave the provider interface itself), then bring everything
// up. It is idempotent at every step.
func (w *BridgeWirer) EnsureBridge(bridge string, vlanID *int) error {
	if !linkExists(bridge) {
		if err := ipLink("add", "name", bridge, "type", "bridge"); err != nil {
			return fmt.Errorf("creating bridge %s: %w", bridge, err)
		}
	}

	enslaved := w.ProviderInterface
	if vlanID != nil {
		sub := fmt.Sprintf("%s.%d", w.ProviderInterface, *vlanID)
		if !linkExists(sub) {
			if err := ipLink("add", "link", w.ProviderInterface, "name", sub, "type", "vlan", "id", strconv.Itoa(*vlanID)); err != nil {
				return fmt.Errorf("creating vlan subinterface %s: %w", sub, err)
			}
		}
		if !isEnslavedTo(sub, bridge) {
			if err := ipLink("set", sub, "master", bridge); err != nil {
				return fmt.Errorf("enslaving %s to %s: %w", sub, bridge, err)
			}
		}
		enslaved = sub
	} else {
		if !isEnslavedTo(w.ProviderInterface, bridge) {
			if err := ipLink("set", w.ProviderInterface, "master", bridge); err != nil {
				return fmt.Errorf("enslaving %s to %s: %w", w.ProviderInterface, bridge, err)
			}
		}
	}

	if err := ipLink("set", enslaved, "up"); err != nil {
		return fmt.Errorf("bringing up %s: %w", enslaved, err)
	}
	if err := ipLink("set", bridge, "up"); err != nil {
		return fmt.Errorf("bringing up bridge %s: %w", bridge, err)
	}

	if !isUp(bridge) {
		return fmt.Errorf("bridge %s did not come up", bridge)
	}
	return nil
}

// InferBridgeName derives the bridge and vlan id to configure for a bridge
// name that wasn't pre-created, per the VM-create auto-inference: names
// of the shape "br-vlan{N}" imply vlan id N; anything else is a no-vlan
// bridge.
func InferBridgeName(bridgeName string) (bridge string, vlanID *int) {
	m := brVlanPattern.FindStringSubmatch(bridgeName)
	if m == nil {
		return bridgeName, nil
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return bridgeName, nil
	}
	return bridgeName, &id
}

var brVlanPattern = regexp.MustCompile(`^br-vlan(\d+)$`)

// RemoveBridge reverses EnsureBridge's steps but only removes the bridge
// device itself if its brif directory is empty (shared bridges are never
// unilaterally destroyed).
func (w *BridgeWirer) RemoveBridge(bridge string, vlanID *int) error {
	if vlanID != nil {
		sub := fmt.Sprintf("%s.%d", w.ProviderInterface, *vlanID)
		_ = ipLink("delete", sub)
	}
	if bridgeBrifEmpty(bridge) {
		_ = ipLink("delete", bridge, "type", "bridge")
	}
	return nil
}

func ipLink(args ...string) error {
	cmd := exec.Command("ip", append([]string{"link"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// linkExists consults `ip link show` rather than treating a prior mutation's
// stderr as fatal.
func linkExists(name string) bool {
	out, err := exec.Command("ip", "-json", "link", "show", name).Output()
	return err == nil && len(out) > 0
}

func isUp(name string) bool {
	out, err := exec.Command("ip", "link", "show", name).Output()
	if err != nil {
		return false
	}
	return bytes.Contains(out, []byte("state UP")) || bytes.Contains(out, []byte("UP,LOWER_UP"))
}

func isEnslavedTo(iface, bridge string) bool {
	out, err := exec.Command("ip", "-json", "link", "show", iface).Output()
	if err != nil {
		return false
	}
	return bytes.Contains(out, []byte(`"master":"`+bridge+`"`))
}

func bridgeBrifEmpty(bridge string) bool {
	out, err := exec.Command("ip", "link", "show", "master", bridge).Output()
	if err != nil {
		return true
	}
	return len(bytes.TrimSpace(out)) == 0
}

// ParseMAC validates a synthesized MAC address is well-formed before it is
// embedded in domain XML, using gopacket's defensive net-address parsing
// rather than hand-rolled string splitting.
func ParseMAC(mac string) (gopacket.Endpoint, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return gopacket.Endpoint{}, fmt.Errorf("invalid mac address %q: %w", mac, err)
	}
	return gopacket.NewMACEndpoint(hw), nil
}
