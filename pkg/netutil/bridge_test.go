package netutil

import "testing"

func TestInferBridgeNameWithVLAN(t *testing.T) {
	bridge, vlanID := InferBridgeName("br-vlan42")
	if bridge != "br-vlan42" {
		t.Errorf("bridge = %q, want %q", bridge, "br-vlan42")
	}
	if vlanID == nil || *vlanID != 42 {
		t.Fatalf("vlanID = %v, want 42", vlanID)
	}
}

func TestInferBridgeNameWithoutVLAN(t *testing.T) {
	bridge, vlanID := InferBridgeName("br-default")
	if bridge != "br-default" {
		t.Errorf("bridge = %q, want %q", bridge, "br-default")
	}
	if vlanID != nil {
		t.Errorf("vlanID = %v, want nil", vlanID)
	}
}

func TestParseMACValid(t *testing.T) {
	if _, err := ParseMAC("52:54:00:12:34:56"); err != nil {
		t.Errorf("ParseMAC() error = %v, want nil", err)
	}
}

func TestParseMACInvalid(t *testing.T) {
	if _, err := ParseMAC("not-a-mac"); err == nil {
		t.Error("ParseMAC() with invalid address: want error, got nil")
	}
}
