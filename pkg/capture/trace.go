package capture

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Tracer logs a one-line summary of each observed packet at debug level.
type Tracer struct {
	kind core.DeviceKind
}

// NewTracer returns a tracer for packets from devices of the given kind.
func NewTracer(kind core.DeviceKind) *Tracer {
	return &Tracer{kind: kind}
}

// Observe logs the packet summary.
func (t *Tracer) Observe(direction string, pkt []byte) {
	if !logging.IsDebug() {
		return
	}
	logging.DebugWithFields(logging.Fields{
		"direction": direction,
		"len":       len(pkt),
	}, "%s", Describe(t.kind, pkt))
}

// Describe summarizes a packet: IP header fields for TUN, Ethernet header
// and decoded flows for TAP. Malformed packets are described, not rejected.
func Describe(kind core.DeviceKind, pkt []byte) string {
	if kind == core.KindTUN {
		return describeIP(pkt)
	}
	return describeFrame(pkt)
}

func describeIP(pkt []byte) string {
	if len(pkt) == 0 {
		return "empty packet"
	}
	switch pkt[0] >> 4 {
	case ipv4.Version:
		h, err := ipv4.ParseHeader(pkt)
		if err != nil {
			return fmt.Sprintf("malformed IPv4: %v", err)
		}
		return fmt.Sprintf("IPv4 %s > %s proto %d ttl %d len %d", h.Src, h.Dst, h.Protocol, h.TTL, h.TotalLen)
	case ipv6.Version:
		h, err := ipv6.ParseHeader(pkt)
		if err != nil {
			return fmt.Sprintf("malformed IPv6: %v", err)
		}
		return fmt.Sprintf("IPv6 %s > %s next %d hop %d len %d", h.Src, h.Dst, h.NextHeader, h.HopLimit, h.PayloadLen)
	default:
		return fmt.Sprintf("unknown IP version %d", pkt[0]>>4)
	}
}

func describeFrame(pkt []byte) string {
	p := gopacket.NewPacket(pkt, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, ok := p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		if el := p.ErrorLayer(); el != nil {
			return fmt.Sprintf("malformed frame: %v", el.Error())
		}
		return "malformed frame"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s > %s %s", eth.SrcMAC, eth.DstMAC, eth.EthernetType)
	if nl := p.NetworkLayer(); nl != nil {
		fmt.Fprintf(&b, " %s", nl.NetworkFlow())
	}
	if tl := p.TransportLayer(); tl != nil {
		fmt.Fprintf(&b, " %s %s", tl.LayerType(), tl.TransportFlow())
	}
	return b.String()
}
