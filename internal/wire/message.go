// Package wire implements the fixed-layout binary records exchanged between
// traffic sources (conntrack, NFLOG, packet capture) and the node engine.
//
// Every message starts with a 4-byte header:
//
//	version(1) · type(1) · length(2)
//
// followed by a payload whose layout depends on the message type. All
// integers are big-endian.
package wire

import (
	"errors"
	"fmt"
	"net/netip"
)

// ProtocolVersion is the only header version this package produces and accepts.
const ProtocolVersion = 1

// HeaderSize is the size of the common message header.
const HeaderSize = 4

// MessageType discriminates the payload that follows the header.
type MessageType uint8

const (
	TypeTrafficData MessageType = 1
	TypeDNSAnswer   MessageType = 2
	TypeBlocked     MessageType = 3
	TypeDNSQuery    MessageType = 4
	// TypeErrBadVersion is reserved to tell a peer its version is not understood.
	TypeErrBadVersion MessageType = 250
)

func (t MessageType) String() string {
	switch t {
	case TypeTrafficData:
		return "traffic"
	case TypeDNSAnswer:
		return "dnsanswer"
	case TypeBlocked:
		return "blocked"
	case TypeDNSQuery:
		return "dnsquery"
	case TypeErrBadVersion:
		return "badversion"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsPacket reports whether messages of this type carry a packet payload.
func (t MessageType) IsPacket() bool {
	return t == TypeTrafficData || t == TypeBlocked
}

// IsDNS reports whether messages of this type carry a DNS payload.
func (t MessageType) IsDNS() bool {
	return t == TypeDNSAnswer || t == TypeDNSQuery
}

// Address family values as written by the kernel-side producers.
const (
	FamilyINET  uint8 = 2
	FamilyINET6 uint8 = 10
)

var (
	ErrBadVersion    = errors.New("unsupported protocol version")
	ErrTruncated     = errors.New("truncated message")
	ErrInvalidLength = errors.New("invalid length")
)

// Error describes where decoding failed. It wraps one of the sentinel errors.
type Error struct {
	Field  string
	Offset int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire: %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Header is the common prefix of every message.
type Header struct {
	Version uint8
	Type    MessageType
	// Length is advisory; decoders rely on the delivered buffer instead.
	Length uint16
}

// Message is a decoded record of any supported type. Exactly one of Packet
// and DNS is set.
type Message struct {
	Type   MessageType
	Packet *PacketObservation
	DNS    *DnsObservation
}

// ParseHeader validates and returns the header of b.
func ParseHeader(b []byte) (Header, error) {
	r := reader{buf: b}
	var h Header
	var err error
	if h.Version, err = r.uint8("version"); err != nil {
		return h, err
	}
	if h.Version != ProtocolVersion {
		return h, &Error{Field: "version", Offset: 0, Err: ErrBadVersion}
	}
	var t uint8
	if t, err = r.uint8("type"); err != nil {
		return h, err
	}
	h.Type = MessageType(t)
	if h.Length, err = r.uint16("length"); err != nil {
		return h, err
	}
	return h, nil
}

// Decode decodes a single message, dispatching on its type byte.
func Decode(b []byte) (Message, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Message{}, err
	}
	switch {
	case h.Type.IsPacket():
		_, obs, err := DecodePacket(b)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: h.Type, Packet: &obs}, nil
	case h.Type.IsDNS():
		_, obs, err := DecodeDNS(b)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: h.Type, DNS: &obs}, nil
	default:
		return Message{}, &Error{Field: "type", Offset: 1, Err: fmt.Errorf("%w: message type %d", ErrInvalidLength, uint8(h.Type))}
	}
}

// Encode encodes msg according to its payload.
func Encode(msg Message) ([]byte, error) {
	switch {
	case msg.Packet != nil && msg.Type.IsPacket():
		return EncodePacket(msg.Type, msg.Packet), nil
	case msg.DNS != nil && msg.Type.IsDNS():
		return EncodeDNS(msg.Type, msg.DNS)
	default:
		return nil, fmt.Errorf("cannot encode %s message without a matching payload", msg.Type)
	}
}

// EncodeBadVersion returns the reply sent to a peer speaking another
// protocol version: a bare header of type badversion.
func EncodeBadVersion() []byte {
	b := make([]byte, HeaderSize)
	putHeader(b, TypeErrBadVersion, 0)
	return b
}

func putHeader(dst []byte, t MessageType, payloadLen int) {
	dst[0] = ProtocolVersion
	dst[1] = byte(t)
	dst[2] = byte(payloadLen >> 8)
	dst[3] = byte(payloadLen)
}

// AddrFromWire converts a right-justified 16-byte address to a netip.Addr.
func AddrFromWire(family uint8, raw [16]byte) netip.Addr {
	if isINET(family) {
		return netip.AddrFrom4([4]byte(raw[12:16]))
	}
	return netip.AddrFrom16(raw)
}

// AddrToWire is the inverse of AddrFromWire. IPv4-mapped IPv6 addresses are
// written as IPv4.
func AddrToWire(addr netip.Addr) (uint8, [16]byte) {
	var raw [16]byte
	addr = addr.Unmap()
	if addr.Is4() {
		a4 := addr.As4()
		copy(raw[12:], a4[:])
		return FamilyINET, raw
	}
	return FamilyINET6, addr.As16()
}

func isINET(family uint8) bool {
	return family == FamilyINET || family == 4
}
