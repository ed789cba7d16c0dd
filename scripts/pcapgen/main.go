package main

import (
	"Go2NetNodes/pkg/pcap"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

var (
	routerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	routerIP  = net.IP{192, 168, 1, 1}
)

// remote is a host the generated devices talk to after resolving its name.
type remote struct {
	name string
	ip   net.IP
}

var remotes = []remote{
	{"www.example.org.", net.IP{93, 184, 216, 34}},
	{"cdn.example.net.", net.IP{203, 0, 113, 10}},
	{"api.example.com.", net.IP{198, 51, 100, 20}},
	{"time.example.com.", net.IP{198, 51, 100, 123}},
}

type generator struct {
	w    *pcap.Writer
	ts   time.Time
	opts gopacket.SerializeOptions
}

func main() {
	outputFile := flag.String("o", "home.pcap", "Output pcap file path")
	devices := flag.Int("d", 4, "Number of local devices")
	packetCount := flag.Int("c", 1000, "Number of traffic packets to generate")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	w, err := pcap.NewWriter(f, 65536, layers.LinkTypeEthernet)
	if err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}
	defer w.Close()

	g := &generator{
		w:    w,
		ts:   time.Now(),
		opts: gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true},
	}
	log.Printf("Generating traffic of %d devices into %s...", *devices, *outputFile)

	// Every device resolves every remote once before talking to it.
	for d := 0; d < *devices; d++ {
		for _, r := range remotes {
			g.dnsExchange(d, r)
		}
	}
	for i := 0; i < *packetCount; i++ {
		d := rand.Intn(*devices)
		r := remotes[rand.Intn(len(remotes))]
		g.tcp(d, r.ip, uint16(40000+d), 443, rand.Intn(1400)+50)
	}

	log.Printf("Successfully generated %d packets into %s.", *packetCount+2*(*devices)*len(remotes), *outputFile)
}

func deviceMAC(d int) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x01, byte(d)}
}

func deviceIP(d int) net.IP {
	return net.IP{192, 168, 1, byte(10 + d)}
}

func (g *generator) dnsExchange(d int, r remote) {
	q := new(dns.Msg)
	q.SetQuestion(r.name, dns.TypeA)
	query, err := q.Pack()
	if err != nil {
		log.Fatalf("Failed to pack query: %v", err)
	}
	g.udp(deviceMAC(d), routerMAC, deviceIP(d), routerIP, uint16(50000+d), 53, query)

	resp := new(dns.Msg)
	resp.SetReply(q)
	rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN A %s", r.name, r.ip))
	if err != nil {
		log.Fatalf("Failed to build answer: %v", err)
	}
	resp.Answer = append(resp.Answer, rr)
	answer, err := resp.Pack()
	if err != nil {
		log.Fatalf("Failed to pack answer: %v", err)
	}
	g.udp(routerMAC, deviceMAC(d), routerIP, deviceIP(d), 53, uint16(50000+d), answer)
}

func (g *generator) udp(srcMAC, dstMAC net.HardwareAddr, src, dst net.IP, sport, dport uint16, payload []byte) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{SrcIP: src, DstIP: dst, Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	udp.SetNetworkLayerForChecksum(ip)
	g.write(eth, ip, udp, gopacket.Payload(payload))
}

func (g *generator) tcp(d int, dst net.IP, sport, dport uint16, size int) {
	eth := &layers.Ethernet{SrcMAC: deviceMAC(d), DstMAC: routerMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{SrcIP: deviceIP(d), DstIP: dst, Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: rand.Uint32(), ACK: true, Window: 14600}
	tcp.SetNetworkLayerForChecksum(ip)
	payload := make([]byte, size)
	rand.Read(payload)
	g.write(eth, ip, tcp, gopacket.Payload(payload))
}

func (g *generator) write(ls ...gopacket.SerializableLayer) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, g.opts, ls...); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	g.ts = g.ts.Add(time.Millisecond)
	ci := gopacket.CaptureInfo{
		Timestamp:     g.ts,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := g.w.WritePacket(ci, buf.Bytes()); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
}
