package core

import (
	"fmt"
	"strings"
)

// DeviceKind selects the framing carried by a virtual interface.
type DeviceKind int

const (
	// KindTUN exchanges raw IP packets.
	KindTUN DeviceKind = iota
	// KindTAP exchanges Ethernet frames.
	KindTAP
)

// String returns the lower-case name used in configuration.
func (k DeviceKind) String() string {
	switch k {
	case KindTUN:
		return "tun"
	case KindTAP:
		return "tap"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseDeviceKind parses "tun" or "tap" (case-insensitive).
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tun":
		return KindTUN, nil
	case "tap":
		return KindTAP, nil
	default:
		return 0, fmt.Errorf("unknown device type %q (want tun or tap)", s)
	}
}

// DeviceConfig is the tagged request consumed by the acquisition routine.
type DeviceConfig struct {
	// Name is the requested interface name. Empty lets the kernel pick one.
	Name string

	// Kind selects TUN or TAP framing.
	Kind DeviceKind
}

// Device represents an acquired virtual interface.
//
// Implementations are configured non-blocking: Read and Write never park the
// calling goroutine and report unix.EAGAIN when no progress can be made.
type Device interface {
	// Name returns the interface name as assigned by the kernel
	Name() string

	// Kind returns the framing of the interface
	Kind() DeviceKind

	// Fd returns the descriptor registered for readiness notifications
	Fd() int

	// Read reads at most one packet into p
	Read(p []byte) (int, error)

	// Write writes exactly one packet
	Write(p []byte) (int, error)

	// Close releases the descriptor
	Close() error
}

// TrafficSnapshot is a point-in-time copy of one direction's counters.
type TrafficSnapshot struct {
	// Packets is the number of fully forwarded packets
	Packets uint64

	// Bytes is the number of fully forwarded bytes
	Bytes uint64
}

// Bits returns the byte count expressed in bits.
func (s TrafficSnapshot) Bits() uint64 {
	return s.Bytes * 8
}

// LinkMetrics contains cumulative metrics for one forwarding direction.
// Unlike TrafficSnapshot these are never reset.
type LinkMetrics struct {
	// Direction is the link label ("up" or "down")
	Direction string `json:"direction"`

	// Source is the name of the interface packets are read from
	Source string `json:"source"`

	// Destination is the name of the interface packets are written to
	Destination string `json:"destination"`

	// PacketsForwarded is the number of packets fully written to Destination
	PacketsForwarded uint64 `json:"packets"`

	// BytesForwarded is the number of bytes fully written to Destination
	BytesForwarded uint64 `json:"bytes"`

	// Faults is the number of read or write errors, short writes included
	Faults uint64 `json:"faults"`

	// EndOfStream is the number of zero-length reads from Source
	EndOfStream uint64 `json:"eos"`
}
