package core

import (
	"testing"
)

// TestBridgeConfig tests the BridgeConfig structure.
func TestBridgeConfig(t *testing.T) {
	config := BridgeConfig{
		Upper:      "upper",
		Lower:      "lower",
		Type:       "tap",
		BufferSize: 16384,
		MTU:        1500,
		Up:         true,
	}

	if config.Upper != "upper" {
		t.Errorf("Expected Upper to be 'upper', got '%s'", config.Upper)
	}

	if config.Lower != "lower" {
		t.Errorf("Expected Lower to be 'lower', got '%s'", config.Lower)
	}

	kind, err := ParseDeviceKind(config.Type)
	if err != nil {
		t.Fatalf("Expected Type to parse, got %v", err)
	}
	if kind != KindTAP {
		t.Errorf("Expected kind tap, got %s", kind)
	}

	if config.BufferSize != 16384 {
		t.Errorf("Expected BufferSize to be 16384, got %d", config.BufferSize)
	}

	if !config.Up {
		t.Errorf("Expected Up to be true, got %v", config.Up)
	}
}

// TestParseDeviceKind tests kind parsing and its string form.
func TestParseDeviceKind(t *testing.T) {
	cases := map[string]DeviceKind{
		"tun":   KindTUN,
		"TAP":   KindTAP,
		" tap ": KindTAP,
	}
	for in, want := range cases {
		got, err := ParseDeviceKind(in)
		if err != nil {
			t.Fatalf("ParseDeviceKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDeviceKind(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseDeviceKind("tunnel"); err == nil {
		t.Errorf("Expected error for unknown kind")
	}

	if KindTUN.String() != "tun" || KindTAP.String() != "tap" {
		t.Errorf("Unexpected kind names %q %q", KindTUN, KindTAP)
	}
}

// TestTrafficSnapshotBits tests the bit rate helper.
func TestTrafficSnapshotBits(t *testing.T) {
	s := TrafficSnapshot{Packets: 2, Bytes: 128}
	if s.Bits() != 1024 {
		t.Errorf("Expected 1024 bits, got %d", s.Bits())
	}
}
