package main

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"go.universe.tf/nattable/flowtable"
)

// Packet is a decoded IPv4 packet carrying TCP, UDP or ICMPv4.
type Packet struct {
	bytes []byte

	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	icmp    layers.ICMPv4
	payload gopacket.Payload
	// FIXME: ICMP errors quoting a translated packet are passed
	// through with the quoted header untouched.
}

// NewPacket returns a Packet manipulator around the given bytes, if
// the bytes represent a packet type we know how to mangle.
func NewPacket(bs []byte) *Packet {
	ret := &Packet{
		bytes: bs,
	}
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, &ret.ip4, &ret.tcp, &ret.udp, &ret.icmp, &ret.payload)
	parser.IgnoreUnsupported = true

	decoded := []gopacket.LayerType{}
	if err := parser.DecodeLayers(bs, &decoded); err != nil {
		return nil
	}
	// Fragments decode as IPv4 followed by an unsupported layer, and
	// are rejected here along with everything else we can't mangle.
	if len(decoded) < 2 || decoded[0] != layers.LayerTypeIPv4 || ret.ip4.Version != 4 {
		return nil
	}
	switch decoded[1] {
	case layers.LayerTypeTCP, layers.LayerTypeUDP, layers.LayerTypeICMPv4:
	default:
		return nil
	}
	return ret
}

// Bytes returns the packet's wire bytes, including any rewrite.
func (p *Packet) Bytes() []byte {
	return p.bytes
}

// Flow returns the packet's flow identifier.
func (p *Packet) Flow() flowtable.Flow {
	src, _ := netip.AddrFromSlice(p.ip4.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(p.ip4.DstIP.To4())

	var srcPort, dstPort uint16
	switch p.ip4.Protocol {
	case layers.IPProtocolTCP:
		srcPort, dstPort = uint16(p.tcp.SrcPort), uint16(p.tcp.DstPort)
	case layers.IPProtocolUDP:
		srcPort, dstPort = uint16(p.udp.SrcPort), uint16(p.udp.DstPort)
	}
	return flowtable.NewFlow(p.ip4.Protocol, src, dst, srcPort, dstPort)
}

// SetFlow rewrites the packet's addresses and ports to f, and
// recomputes lengths and checksums.
func (p *Packet) SetFlow(f flowtable.Flow) error {
	if f.Protocol != p.ip4.Protocol {
		return errors.Errorf("can't rewrite %s packet to %s flow", p.ip4.Protocol, f.Protocol)
	}
	if !f.Src.Is4() || !f.Dst.Is4() {
		return errors.Errorf("can't rewrite IPv4 packet to %s", f)
	}

	p.ip4.SrcIP = f.Src.AsSlice()
	p.ip4.DstIP = f.Dst.AsSlice()

	var transport gopacket.SerializableLayer
	var payload []byte
	switch f.Protocol {
	case layers.IPProtocolTCP:
		p.tcp.SrcPort, p.tcp.DstPort = layers.TCPPort(f.SrcPort), layers.TCPPort(f.DstPort)
		if err := p.tcp.SetNetworkLayerForChecksum(&p.ip4); err != nil {
			return err
		}
		transport, payload = &p.tcp, p.tcp.Payload
	case layers.IPProtocolUDP:
		p.udp.SrcPort, p.udp.DstPort = layers.UDPPort(f.SrcPort), layers.UDPPort(f.DstPort)
		if err := p.udp.SetNetworkLayerForChecksum(&p.ip4); err != nil {
			return err
		}
		transport, payload = &p.udp, p.udp.Payload
	case layers.IPProtocolICMPv4:
		transport, payload = &p.icmp, p.icmp.Payload
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &p.ip4, transport, gopacket.Payload(payload)); err != nil {
		return errors.Wrap(err, "serializing rewritten packet")
	}
	p.bytes = buf.Bytes()
	return nil
}
