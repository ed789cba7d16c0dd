package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// PacketPayloadSize is the fixed size of a packet payload, regardless of family.
const PacketPayloadSize = 1 + 1 + 16 + 16 + 2 + 2 + 8 + 8 + 2

// PacketObservation is one traffic (or blocked-traffic) record.
type PacketObservation struct {
	Family        uint8
	Protocol      uint8
	SrcAddr       [16]byte
	DestAddr      [16]byte
	SrcPort       uint16
	DestPort      uint16
	PacketCount   uint64
	PayloadSize   uint64
	PayloadOffset uint16
	// ICMPType is filled in by local parsers for ICMP traffic. It is not
	// part of the wire layout.
	ICMPType uint8
}

// FlowIdentity holds the fields that identify a flow. Counters, the payload
// offset and the ICMP type are deliberately absent.
type FlowIdentity struct {
	Family   uint8
	Protocol uint8
	SrcAddr  [16]byte
	DestAddr [16]byte
	SrcPort  uint16
	DestPort uint16
}

// NewPacketObservation builds an observation from parsed addresses.
func NewPacketObservation(protocol uint8, src, dst netip.Addr, srcPort, dstPort uint16, packets, bytes uint64) PacketObservation {
	family, srcRaw := AddrToWire(src)
	_, dstRaw := AddrToWire(dst)
	return PacketObservation{
		Family:      family,
		Protocol:    protocol,
		SrcAddr:     srcRaw,
		DestAddr:    dstRaw,
		SrcPort:     srcPort,
		DestPort:    dstPort,
		PacketCount: packets,
		PayloadSize: bytes,
	}
}

// Identity returns the flow identity of p.
func (p *PacketObservation) Identity() FlowIdentity {
	return FlowIdentity{
		Family:   p.Family,
		Protocol: p.Protocol,
		SrcAddr:  p.SrcAddr,
		DestAddr: p.DestAddr,
		SrcPort:  p.SrcPort,
		DestPort: p.DestPort,
	}
}

// SameFlow reports whether a and b belong to the same flow.
func SameFlow(a, b *PacketObservation) bool {
	return a.Identity() == b.Identity()
}

// SrcIP returns the source address.
func (p *PacketObservation) SrcIP() netip.Addr {
	return AddrFromWire(p.Family, p.SrcAddr)
}

// DestIP returns the destination address.
func (p *PacketObservation) DestIP() netip.Addr {
	return AddrFromWire(p.Family, p.DestAddr)
}

func (p *PacketObservation) String() string {
	version := 6
	if isINET(p.Family) {
		version = 4
	}
	return fmt.Sprintf("ipv%d protocol %d %s -> %s %d packets %d bytes",
		version, p.Protocol,
		netip.AddrPortFrom(p.SrcIP(), p.SrcPort),
		netip.AddrPortFrom(p.DestIP(), p.DestPort),
		p.PacketCount, p.PayloadSize)
}

// EncodePacket writes a full message (header and payload) for obs.
func EncodePacket(t MessageType, obs *PacketObservation) []byte {
	buf := make([]byte, HeaderSize+PacketPayloadSize)
	putHeader(buf, t, PacketPayloadSize)
	b := buf[HeaderSize:]
	b[0] = obs.Family
	b[1] = obs.Protocol
	copy(b[2:18], obs.SrcAddr[:])
	copy(b[18:34], obs.DestAddr[:])
	binary.BigEndian.PutUint16(b[34:], obs.SrcPort)
	binary.BigEndian.PutUint16(b[36:], obs.DestPort)
	binary.BigEndian.PutUint64(b[38:], obs.PacketCount)
	binary.BigEndian.PutUint64(b[46:], obs.PayloadSize)
	binary.BigEndian.PutUint16(b[54:], obs.PayloadOffset)
	return buf
}

// DecodePacket decodes a traffic or blocked message.
func DecodePacket(b []byte) (MessageType, PacketObservation, error) {
	var obs PacketObservation
	h, err := ParseHeader(b)
	if err != nil {
		return 0, obs, err
	}
	if !h.Type.IsPacket() {
		return h.Type, obs, &Error{Field: "type", Offset: 1, Err: fmt.Errorf("%w: %s is not a packet message", ErrInvalidLength, h.Type)}
	}

	r := reader{buf: b, off: HeaderSize}
	if obs.Family, err = r.uint8("family"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.Protocol, err = r.uint8("protocol"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.SrcAddr, err = r.addr("src_addr"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.DestAddr, err = r.addr("dest_addr"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.SrcPort, err = r.uint16("src_port"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.DestPort, err = r.uint16("dest_port"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.PacketCount, err = r.uint64("packet_count"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.PayloadSize, err = r.uint64("payload_size"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	if obs.PayloadOffset, err = r.uint16("payload_offset"); err != nil {
		return h.Type, PacketObservation{}, err
	}
	return h.Type, obs, nil
}
