package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
)

// maxDNameLength is bounded by the single length byte on the wire.
const maxDNameLength = 255

// DnsObservation binds a domain name to the address that answered for it, or
// for TypeDNSQuery, to the client that asked.
type DnsObservation struct {
	Family uint8
	IP     [16]byte
	TTL    uint32
	// DName is the raw label encoding, not yet escaped for display.
	DName []byte
}

// NewDNSObservation packs name into raw label encoding.
func NewDNSObservation(ip netip.Addr, name string, ttl uint32) (DnsObservation, error) {
	family, raw := AddrToWire(ip)
	buf := make([]byte, maxDNameLength+1)
	n, err := dns.PackDomainName(dns.Fqdn(name), buf, 0, nil, false)
	if err != nil {
		return DnsObservation{}, fmt.Errorf("failed to pack domain name %q: %w", name, err)
	}
	if n > maxDNameLength {
		return DnsObservation{}, fmt.Errorf("domain name %q: %w", name, ErrInvalidLength)
	}
	return DnsObservation{Family: family, IP: raw, TTL: ttl, DName: buf[:n]}, nil
}

// Addr returns the observed address.
func (d *DnsObservation) Addr() netip.Addr {
	return AddrFromWire(d.Family, d.IP)
}

// Domain returns the display form of the raw name.
func (d *DnsObservation) Domain() string {
	return DomainString(d.DName)
}

func (d *DnsObservation) String() string {
	return fmt.Sprintf("%s %s ttl %d", d.Addr(), d.Domain(), d.TTL)
}

// EncodeDNS writes a full message (header and payload) for obs.
func EncodeDNS(t MessageType, obs *DnsObservation) ([]byte, error) {
	if len(obs.DName) > maxDNameLength {
		return nil, fmt.Errorf("dname of %d bytes: %w", len(obs.DName), ErrInvalidLength)
	}
	payload := 1 + 16 + 4 + 1 + len(obs.DName)
	buf := make([]byte, HeaderSize+payload)
	putHeader(buf, t, payload)
	b := buf[HeaderSize:]
	b[0] = obs.Family
	copy(b[1:17], obs.IP[:])
	binary.BigEndian.PutUint32(b[17:], obs.TTL)
	b[21] = byte(len(obs.DName))
	copy(b[22:], obs.DName)
	return buf, nil
}

// DecodeDNS decodes a DNS answer or DNS query message.
func DecodeDNS(b []byte) (MessageType, DnsObservation, error) {
	var obs DnsObservation
	h, err := ParseHeader(b)
	if err != nil {
		return 0, obs, err
	}
	if !h.Type.IsDNS() {
		return h.Type, obs, &Error{Field: "type", Offset: 1, Err: fmt.Errorf("%w: %s is not a dns message", ErrInvalidLength, h.Type)}
	}

	r := reader{buf: b, off: HeaderSize}
	if obs.Family, err = r.uint8("family"); err != nil {
		return h.Type, DnsObservation{}, err
	}
	if obs.IP, err = r.addr("ip"); err != nil {
		return h.Type, DnsObservation{}, err
	}
	if obs.TTL, err = r.uint32("ttl"); err != nil {
		return h.Type, DnsObservation{}, err
	}
	n, err := r.uint8("dname_length")
	if err != nil {
		return h.Type, DnsObservation{}, err
	}
	start := r.off
	if obs.DName, err = r.bytes("dname", int(n)); err != nil {
		return h.Type, DnsObservation{}, err
	}
	if off, err := checkLabels(obs.DName); err != nil {
		return h.Type, DnsObservation{}, &Error{Field: "dname", Offset: start + off, Err: err}
	}
	return h.Type, obs, nil
}

// checkLabels verifies that every label fits inside raw. It returns the
// offending offset on failure.
func checkLabels(raw []byte) (int, error) {
	off := 0
	for off < len(raw) {
		l := int(raw[off])
		if l == 0 {
			return 0, nil
		}
		if l > 63 {
			return off, fmt.Errorf("%w: label length %d", ErrInvalidLength, l)
		}
		if off+1+l > len(raw) {
			return off, fmt.Errorf("%w: label of %d bytes overruns name", ErrInvalidLength, l)
		}
		off += 1 + l
	}
	return 0, nil
}
