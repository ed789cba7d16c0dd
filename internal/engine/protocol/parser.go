// Package protocol turns captured frames into wire messages: one traffic
// observation per IP packet plus DNS answers and queries found in it.
package protocol

import (
	"Go2NetNodes/internal/wire"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

const dnsPort = 53

var ErrNotIP = errors.New("not an IP packet")

// ParseFrame decodes an Ethernet frame.
func ParseFrame(data []byte) ([]wire.Message, error) {
	return ParsePacket(gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default))
}

// ParseIP decodes a packet that starts at the IP header, as delivered by
// NFLOG.
func ParseIP(data []byte) ([]wire.Message, error) {
	if len(data) == 0 {
		return nil, ErrNotIP
	}
	first := layers.LayerTypeIPv4
	if data[0]>>4 == 6 {
		first = layers.LayerTypeIPv6
	}
	return ParsePacket(gopacket.NewPacket(data, first, gopacket.Default))
}

// ParsePacket extracts the traffic observation of packet and, for DNS over
// UDP, the answered addresses or the queried names.
func ParsePacket(packet gopacket.Packet) ([]wire.Message, error) {
	var (
		src, dst netip.Addr
		proto    uint8
		size     uint64
	)
	switch l := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(l.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(l.DstIP.To4())
		proto = uint8(l.Protocol)
		size = uint64(len(l.Payload))
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(l.SrcIP.To16())
		dst, _ = netip.AddrFromSlice(l.DstIP.To16())
		proto = uint8(l.NextHeader)
		size = uint64(len(l.Payload))
	default:
		return nil, ErrNotIP
	}
	if !src.IsValid() || !dst.IsValid() {
		return nil, fmt.Errorf("invalid address in %s packet", packet.NetworkLayer().LayerType())
	}

	obs := wire.NewPacketObservation(proto, src, dst, 0, 0, 1, size)
	var udpPayload []byte
	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		obs.SrcPort, obs.DestPort = uint16(l.SrcPort), uint16(l.DstPort)
	case *layers.UDP:
		obs.SrcPort, obs.DestPort = uint16(l.SrcPort), uint16(l.DstPort)
		udpPayload = l.Payload
	}
	if l, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		obs.ICMPType = l.TypeCode.Type()
	} else if l, ok := packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6); ok {
		obs.ICMPType = l.TypeCode.Type()
	}

	msgs := []wire.Message{{Type: wire.TypeTrafficData, Packet: &obs}}
	if udpPayload != nil && (obs.SrcPort == dnsPort || obs.DestPort == dnsPort) {
		client := dst
		if obs.DestPort == dnsPort {
			client = src
		}
		dnsMsgs, err := ParseDNS(udpPayload, client)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, dnsMsgs...)
	}
	return msgs, nil
}

// ParseDNS decodes a DNS message. A response yields one dnsanswer message per
// A or AAAA record, for the queried name and for the record owner when they
// differ. A query yields one dnsquery message per question, carrying the
// address of client.
func ParseDNS(payload []byte, client netip.Addr) ([]wire.Message, error) {
	var m dns.Msg
	if err := m.Unpack(payload); err != nil {
		return nil, fmt.Errorf("failed to unpack DNS message: %w", err)
	}

	var out []wire.Message
	add := func(t wire.MessageType, ip netip.Addr, name string, ttl uint32) {
		obs, err := wire.NewDNSObservation(ip, name, ttl)
		if err != nil {
			return
		}
		out = append(out, wire.Message{Type: t, DNS: &obs})
	}

	if !m.Response {
		for _, q := range m.Question {
			if q.Qtype == dns.TypeA || q.Qtype == dns.TypeAAAA {
				add(wire.TypeDNSQuery, client, q.Name, 0)
			}
		}
		return out, nil
	}
	if m.Rcode != dns.RcodeSuccess || len(m.Question) == 0 {
		return nil, nil
	}

	qname := m.Question[0].Name
	for _, rr := range m.Answer {
		var ip netip.Addr
		switch rec := rr.(type) {
		case *dns.A:
			ip, _ = netip.AddrFromSlice(rec.A.To4())
		case *dns.AAAA:
			ip, _ = netip.AddrFromSlice(rec.AAAA.To16())
		default:
			continue
		}
		if !ip.IsValid() {
			continue
		}
		ttl := rr.Header().Ttl
		add(wire.TypeDNSAnswer, ip, qname, ttl)
		if owner := rr.Header().Name; dns.CanonicalName(owner) != dns.CanonicalName(qname) {
			add(wire.TypeDNSAnswer, ip, owner, ttl)
		}
	}
	return out, nil
}
