package flowtable

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/gopacket/layers"
)

// Flow identifies one direction of a transport session by its
// 5-tuple. Flows are plain values: compare them with ==, use them as
// map keys, copy them freely.
type Flow struct {
	Protocol layers.IPProtocol
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
}

// NewFlow returns the Flow for the given 5-tuple. Ports are zeroed
// for protocols that don't carry them, so that junk in the ignored
// fields can't make two otherwise identical flows compare unequal.
func NewFlow(proto layers.IPProtocol, src, dst netip.Addr, srcPort, dstPort uint16) Flow {
	if !HasPorts(proto) {
		srcPort, dstPort = 0, 0
	}
	return Flow{
		Protocol: proto,
		Src:      src,
		Dst:      dst,
		SrcPort:  srcPort,
		DstPort:  dstPort,
	}
}

// HasPorts reports whether proto's header carries source and
// destination ports.
func HasPorts(proto layers.IPProtocol) bool {
	switch proto {
	case layers.IPProtocolTCP, layers.IPProtocolUDP, layers.IPProtocolSCTP, layers.IPProtocolUDPLite:
		return true
	default:
		return false
	}
}

// Reverse returns the flow of the return traffic.
func (f Flow) Reverse() Flow {
	return Flow{
		Protocol: f.Protocol,
		Src:      f.Dst,
		Dst:      f.Src,
		SrcPort:  f.DstPort,
		DstPort:  f.SrcPort,
	}
}

func (f Flow) String() string {
	proto := strings.ToLower(f.Protocol.String())
	if !HasPorts(f.Protocol) {
		return fmt.Sprintf("%s %s->%s", proto, f.Src, f.Dst)
	}
	return fmt.Sprintf("%s %s->%s", proto,
		netip.AddrPortFrom(f.Src, f.SrcPort),
		netip.AddrPortFrom(f.Dst, f.DstPort))
}

// Mapping is one internal/external pair held by a Table.
type Mapping struct {
	Internal Flow
	External Flow
}

func (m Mapping) String() string {
	return fmt.Sprintf("%s <=> %s", m.Internal, m.External)
}
