package source

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/wire"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ti-mo/conntrack"
)

func ctFlow(proto uint8, src, dst string, sport, dport uint16, orig, reply conntrack.Counter) conntrack.Flow {
	return conntrack.Flow{
		TupleOrig: conntrack.Tuple{
			IP: conntrack.IPTuple{
				SourceAddress:      netip.MustParseAddr(src),
				DestinationAddress: netip.MustParseAddr(dst),
			},
			Proto: conntrack.ProtoTuple{Protocol: proto, SourcePort: sport, DestinationPort: dport},
		},
		CountersOrig:  orig,
		CountersReply: reply,
	}
}

func TestConntrackObservations(t *testing.T) {
	flows := []conntrack.Flow{
		ctFlow(6, "192.168.1.10", "203.0.113.5", 40000, 443,
			conntrack.Counter{Packets: 10, Bytes: 1200}, conntrack.Counter{Packets: 8, Bytes: 9000}),
		ctFlow(17, "192.168.1.10", "192.168.1.1", 5353, 53, conntrack.Counter{}, conntrack.Counter{}),
		ctFlow(6, "127.0.0.1", "127.0.0.1", 1234, 80, conntrack.Counter{Packets: 1, Bytes: 60}, conntrack.Counter{}),
	}
	obs := Observations(flows)
	require.Len(t, obs, 1)
	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), obs[0].SrcIP())
	assert.Equal(t, netip.MustParseAddr("203.0.113.5"), obs[0].DestIP())
	assert.Equal(t, uint16(40000), obs[0].SrcPort)
	assert.Equal(t, uint16(443), obs[0].DestPort)
	assert.Equal(t, uint64(18), obs[0].PacketCount)
	assert.Equal(t, uint64(10200), obs[0].PayloadSize)
}

func TestNewConntrackInterval(t *testing.T) {
	_, err := NewConntrack(config.ConntrackConfig{Interval: "0s"}, nil)
	assert.Error(t, err)
	_, err = NewConntrack(config.ConntrackConfig{Interval: "soon"}, nil)
	assert.Error(t, err)
	c, err := NewConntrack(config.ConntrackConfig{Interval: "5s"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "5s", c.interval.String())
}

func udpPacket(t *testing.T, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestDNSMessagesKeepOnlyDNS(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.org.", dns.TypeA)
	r := new(dns.Msg)
	r.SetReply(q)
	rr, err := dns.NewRR("example.org. 300 IN A 93.184.216.34")
	require.NoError(t, err)
	r.Answer = append(r.Answer, rr)
	payload, err := r.Pack()
	require.NoError(t, err)

	msgs := DNSMessages(udpPacket(t, "192.168.1.1", "192.168.1.10", 53, 5353, payload))
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.TypeDNSAnswer, msgs[0].Type)
	assert.Equal(t, netip.MustParseAddr("93.184.216.34"), msgs[0].DNS.Addr())
	assert.Equal(t, uint32(300), msgs[0].DNS.TTL)

	assert.Empty(t, DNSMessages([]byte{0x45, 0x00}))
}

func TestBlockedMessages(t *testing.T) {
	msgs := BlockedMessages(udpPacket(t, "192.168.1.10", "198.51.100.7", 40000, 123, make([]byte, 48)))
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.TypeBlocked, msgs[0].Type)
	assert.Equal(t, uint16(123), msgs[0].Packet.DestPort)
	assert.Equal(t, uint64(56), msgs[0].Packet.PayloadSize)
	assert.Nil(t, BlockedMessages(nil))
}

func TestDeliver(t *testing.T) {
	var got []wire.Message
	sink := model.SinkFunc(func(m wire.Message) error {
		got = append(got, m)
		return nil
	})
	pkt := wire.NewPacketObservation(6, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 1, 2, 1, 40)
	dnsObs, err := wire.NewDNSObservation(netip.MustParseAddr("10.0.0.2"), "host.lan", 60)
	require.NoError(t, err)
	require.NoError(t, Deliver(sink, []wire.Message{
		{Type: wire.TypeTrafficData, Packet: &pkt},
		{Type: wire.TypeDNSAnswer, DNS: &dnsObs},
	}))
	require.Len(t, got, 2)
	assert.Equal(t, wire.TypeDNSAnswer, got[1].Type)
}
