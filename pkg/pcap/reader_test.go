package pcap

import (
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/wire"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestWriteAndReadPackets(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, 1600, layers.LinkTypeEthernet)
	require.NoError(t, err)

	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)
	resp.Response = true
	a, err := dns.NewRR("example.com. 300 IN A 192.0.2.10")
	require.NoError(t, err)
	resp.Answer = []dns.RR{a}
	payload, err := resp.Pack()
	require.NoError(t, err)

	frames := [][]byte{
		frame(t, "192.168.1.1", "192.168.1.10", 53, 40000, payload),
		frame(t, "192.168.1.10", "192.0.2.10", 40001, 123, make([]byte, 48)),
		{0xde, 0xad},
	}
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000+int64(i), 0), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}
	require.NoError(t, w.Close())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	r, err := NewReader(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	defer r.Close()

	var got []wire.Message
	st, err := r.ReadPackets(model.SinkFunc(func(msg wire.Message) error {
		got = append(got, msg)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, Stats{Packets: 3, Observations: 3, ParseErrors: 1}, st)
	require.Len(t, got, 3)
	assert.Equal(t, wire.TypeDNSAnswer, got[1].Type)
	assert.Equal(t, "example.com.", got[1].DNS.Domain())
	assert.Equal(t, uint16(123), got[2].Packet.DestPort)
}
