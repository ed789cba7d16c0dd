package wire

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tjebName = []byte{0x03, 0x77, 0x77, 0x77, 0x04, 0x74, 0x6a, 0x65, 0x62, 0x02, 0x6e, 0x6c, 0x00}

// samplePacket is version 1 traffic data for 192.168.8.141:33620 -> 199.16.156.103:443.
func samplePacket() []byte {
	b := []byte{0x01, 0x01, 0x00, 0x3a, 0x02, 0x06}
	b = append(b, make([]byte, 12)...)
	b = append(b, 0xc0, 0xa8, 0x08, 0x8d)
	b = append(b, make([]byte, 12)...)
	b = append(b, 0xc7, 0x10, 0x9c, 0x67)
	b = append(b, 0x83, 0x54, 0x01, 0xbb)
	b = append(b, 0, 0, 0, 0, 0, 0, 0, 0x04) // packet count
	b = append(b, 0, 0, 0, 0, 0, 0, 0x10, 0x1e) // payload size
	b = append(b, 0x00, 0x36) // payload offset
	return b
}

func sampleDNS(ip [4]byte) []byte {
	b := []byte{0x01, 0x02, 0x00, 0x00, 0x02}
	b = append(b, make([]byte, 12)...)
	b = append(b, ip[:]...)
	b = append(b, 0x00, 0x00, 0x0e, 0x10) // ttl 3600
	b = append(b, byte(len(tjebName)))
	return append(b, tjebName...)
}

func TestDecodeSamplePacket(t *testing.T) {
	typ, obs, err := DecodePacket(samplePacket())
	require.NoError(t, err)

	assert.Equal(t, TypeTrafficData, typ)
	assert.Equal(t, uint8(6), obs.Protocol)
	assert.Equal(t, FamilyINET, obs.Family)
	assert.Equal(t, netip.MustParseAddr("192.168.8.141"), obs.SrcIP())
	assert.Equal(t, netip.MustParseAddr("199.16.156.103"), obs.DestIP())
	assert.Equal(t, uint16(33620), obs.SrcPort)
	assert.Equal(t, uint16(443), obs.DestPort)
	assert.Equal(t, uint64(4), obs.PacketCount)
	assert.Equal(t, uint64(0x101e), obs.PayloadSize)
	assert.Equal(t, uint16(0x36), obs.PayloadOffset)
	assert.Equal(t, "ipv4 protocol 6 192.168.8.141:33620 -> 199.16.156.103:443 4 packets 4126 bytes", obs.String())
}

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		src  string
		dst  string
	}{
		{"ipv4", "10.0.0.1", "8.8.8.8"},
		{"ipv6", "2001:db8::1", "2001:db8::53"},
		{"mapped", "::ffff:10.0.0.2", "10.0.0.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := NewPacketObservation(17, netip.MustParseAddr(tc.src), netip.MustParseAddr(tc.dst), 5353, 53, 3, 1200)
			obs.PayloadOffset = 28

			buf := EncodePacket(TypeBlocked, &obs)
			require.Len(t, buf, HeaderSize+56)

			typ, got, err := DecodePacket(buf)
			require.NoError(t, err)
			assert.Equal(t, TypeBlocked, typ)
			assert.Equal(t, obs, got)
			assert.Equal(t, netip.MustParseAddr(tc.src).Unmap(), got.SrcIP())
		})
	}
}

func TestFlowIdentityIgnoresCounters(t *testing.T) {
	a := NewPacketObservation(6, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 1000, 80, 1, 10)
	b := a
	b.PacketCount = 99
	b.PayloadSize = 12345
	b.PayloadOffset = 40
	b.ICMPType = 3
	assert.True(t, SameFlow(&a, &b))

	b.DestPort = 443
	assert.False(t, SameFlow(&a, &b))
}

func TestDecodeSampleDNS(t *testing.T) {
	typ, obs, err := DecodeDNS(sampleDNS([4]byte{127, 0, 0, 1}))
	require.NoError(t, err)
	assert.Equal(t, TypeDNSAnswer, typ)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), obs.Addr())
	assert.Equal(t, uint32(3600), obs.TTL)
	assert.Equal(t, tjebName, obs.DName)
	assert.Equal(t, "www.tjeb.nl.", obs.Domain())
}

func TestDNSRoundTrip(t *testing.T) {
	obs, err := NewDNSObservation(netip.MustParseAddr("2001:db8::7"), "Example.ORG", 60)
	require.NoError(t, err)

	buf, err := EncodeDNS(TypeDNSQuery, &obs)
	require.NoError(t, err)

	msg, err := Decode(buf)
	require.NoError(t, err)
	require.NotNil(t, msg.DNS)
	assert.Nil(t, msg.Packet)
	assert.Equal(t, TypeDNSQuery, msg.Type)
	assert.Equal(t, obs, *msg.DNS)
	assert.Equal(t, "Example.ORG.", msg.DNS.Domain())
}

func TestDecodeErrors(t *testing.T) {
	badVersion := samplePacket()
	badVersion[0] = 2

	overrun := sampleDNS([4]byte{127, 0, 0, 1})
	overrun[len(overrun)-len(tjebName)] = 0x09 // first label claims 9 bytes

	unknownType := samplePacket()
	unknownType[1] = 7

	cases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"header only", []byte{0x01, 0x01}, ErrTruncated},
		{"bad version", badVersion, ErrBadVersion},
		{"truncated packet", samplePacket()[:40], ErrTruncated},
		{"truncated dname", sampleDNS([4]byte{127, 0, 0, 1})[:30], ErrTruncated},
		{"label overrun", overrun, ErrInvalidLength},
		{"unknown type", unknownType, ErrInvalidLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.buf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Nil(t, msg.Packet)
			assert.Nil(t, msg.DNS)

			var werr *Error
			assert.True(t, errors.As(err, &werr))
		})
	}
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	_, _, err := DecodeDNS(samplePacket())
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, _, err = DecodePacket(sampleDNS([4]byte{10, 0, 0, 1}))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestFamilyAliases(t *testing.T) {
	buf := samplePacket()
	buf[4] = 4
	_, obs, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.8.141"), obs.SrcIP())
}

func TestDomainString(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want string
	}{
		{"root", []byte{0x00}, "."},
		{"empty", nil, "."},
		{"plain", tjebName, "www.tjeb.nl."},
		{"escaped dot", []byte{0x03, 'a', '.', 'b', 0x00}, `a\.b.`},
		{"specials", []byte{0x04, ';', '(', ')', '\\', 0x00}, `\;\(\)\\.`},
		{"non printable", []byte{0x02, 0x07, ' ', 0x00}, `\007\032.`},
		{"high byte", []byte{0x01, 0xff, 0x00}, `\255.`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DomainString(tc.raw))
		})
	}
}

func TestNewDNSObservationTooLong(t *testing.T) {
	label := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghi"
	name := label + "." + label + "." + label + "." + label + "." + label
	_, err := NewDNSObservation(netip.MustParseAddr("10.0.0.1"), name, 1)
	assert.Error(t, err)
}

func TestEncodeDispatch(t *testing.T) {
	pkt := NewPacketObservation(17, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 1, 2, 3, 4)
	b, err := Encode(Message{Type: TypeBlocked, Packet: &pkt})
	require.NoError(t, err)
	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, TypeBlocked, msg.Type)
	assert.Equal(t, pkt, *msg.Packet)

	_, err = Encode(Message{Type: TypeDNSAnswer, Packet: &pkt})
	assert.Error(t, err)

	h, err := ParseHeader(EncodeBadVersion())
	require.NoError(t, err)
	assert.Equal(t, TypeErrBadVersion, h.Type)
	assert.Equal(t, uint16(0), h.Length)
}
