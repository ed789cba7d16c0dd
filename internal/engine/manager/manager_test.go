package manager

import (
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/names"
	"Go2NetNodes/internal/nodecache"
	"Go2NetNodes/internal/wire"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceMAC = "00:11:22:33:44:55"

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type memWriter struct {
	mu      sync.Mutex
	reports []*model.TrafficReport
	closed  bool
}

func (w *memWriter) Name() string { return "mem" }

func (w *memWriter) Write(r *model.TrafficReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reports = append(w.reports, r)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type staticNeighbors map[netip.Addr]string

func (n staticNeighbors) LookupMAC(ip netip.Addr) string { return n[ip] }

func (n staticNeighbors) Refresh() (map[netip.Addr]string, error) {
	out := make(map[netip.Addr]string, len(n))
	for ip, mac := range n {
		out[ip] = mac
	}
	return out, nil
}

type memPairs struct{ pairs []blockflow.Pair }

func (s *memPairs) LoadPairs() ([]blockflow.Pair, error) { return s.pairs, nil }

func (s *memPairs) SavePairs(pairs []blockflow.Pair) error {
	s.pairs = append([]blockflow.Pair(nil), pairs...)
	return nil
}

type memNodes struct{ nodes []*nodecache.Node }

func (s *memNodes) SaveNodes(nodes []*nodecache.Node) error {
	s.nodes = s.nodes[:0]
	for _, n := range nodes {
		c := n.Clone()
		c.Persistent = 0
		c.Device = nil
		s.nodes = append(s.nodes, c)
	}
	return nil
}

func (s *memNodes) LoadNodes() ([]*nodecache.Node, error) {
	out := make([]*nodecache.Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.Clone()
	}
	return out, nil
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		FlushInterval:       "1h",
		SizeOfPacketChannel: 16,
		LocalMode:           true,
	}
}

func newTestManager(t *testing.T, cfg config.EngineConfig, deps Deps) (*Manager, *clock) {
	t.Helper()
	clk := &clock{t: time.Unix(1700000000, 0)}
	deps.Now = clk.Now
	deps.Registerer = prometheus.NewRegistry()
	m, err := NewManager(cfg, deps)
	require.NoError(t, err)
	return m, clk
}

func traffic(t wire.MessageType, src, dst string, packets, bytes uint64) wire.Message {
	obs := wire.NewPacketObservation(6, netip.MustParseAddr(src), netip.MustParseAddr(dst), 40000, 443, packets, bytes)
	return wire.Message{Type: t, Packet: &obs}
}

func dnsMsg(t *testing.T, typ wire.MessageType, ip, name string) wire.Message {
	t.Helper()
	obs, err := wire.NewDNSObservation(netip.MustParseAddr(ip), name, 300)
	require.NoError(t, err)
	return wire.Message{Type: typ, DNS: &obs}
}

func TestFlushReportsAccumulatedTraffic(t *testing.T) {
	m, clk := newTestManager(t, engineConfig(), Deps{})

	for i := 0; i < 3; i++ {
		m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 5, 100))
	}
	report := m.Flush()
	require.Len(t, report.Flows, 1)
	assert.Equal(t, model.FlowReport{FromNode: 1, ToNode: 2, Protocol: 6, FromPort: 40000, ToPort: 443, Packets: 15, Bytes: 300}, report.Flows[0])
	assert.Equal(t, uint64(15), report.TotalPackets)
	assert.Len(t, report.Nodes, 2)
	assert.Equal(t, []string{"192.168.1.10"}, report.Nodes[0].IPs)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.metrics.observations.WithLabelValues("traffic")))

	// Nodes changed within the second of the previous report are sent once more.
	clk.t = clk.t.Add(time.Minute)
	report = m.Flush()
	assert.Empty(t, report.Flows)
	assert.Len(t, report.Nodes, 2)

	clk.t = clk.t.Add(time.Minute)
	assert.True(t, m.Flush().Empty())
}

func TestNonLocalTrafficNeedsAMAC(t *testing.T) {
	cfg := engineConfig()
	cfg.LocalMode = false
	neighbors := staticNeighbors{netip.MustParseAddr("192.168.1.10"): deviceMAC}
	m, _ := newTestManager(t, cfg, Deps{Neighbors: neighbors})

	m.Handle(traffic(wire.TypeTrafficData, "198.51.100.1", "203.0.113.5", 1, 10))
	for i := 0; i < 3; i++ {
		m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 5, 100))
	}
	report := m.Flush()
	require.Len(t, report.Flows, 1)
	assert.Equal(t, uint64(15), report.Flows[0].Packets)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.skipped.WithLabelValues("not_local")))

	flows, err := m.DeviceFlows("00-11-22-33-44-55")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	peer, err := m.Node(flows[0].Peer)
	require.NoError(t, err)
	assert.True(t, peer.HasIP(netip.MustParseAddr("203.0.113.5")))
	assert.Equal(t, uint64(15), flows[0].Packets)
	assert.Equal(t, uint64(300), flows[0].Bytes)
	assert.Equal(t, "<unknown>", flows[0].PeerName)

	// The remote peer keeps a table too; the skipped pair left none.
	require.Len(t, m.Devices(), 2)
	_, err = m.DeviceFlows("aa:bb:cc:dd:ee:ff")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestLocalTrafficWithoutMACsFillsDeviceTables(t *testing.T) {
	m, _ := newTestManager(t, engineConfig(), Deps{})

	m.Handle(traffic(wire.TypeTrafficData, "10.0.0.1", "10.0.0.2", 5, 100))
	report := m.Flush()
	require.Len(t, report.Flows, 1)

	devices := m.Devices()
	require.Len(t, devices, 2)
	for i, n := range devices {
		peer := devices[1-i]
		require.NotNil(t, n.Device, "node %d", n.ID)
		f := n.Device.Flow(peer.ID)
		require.NotNil(t, f, "node %d", n.ID)
		assert.Equal(t, uint64(5), f.Packets)
		assert.Equal(t, uint64(100), f.Bytes)
		assert.Equal(t, 1, n.References)
	}
}

func TestIgnoredAndEmptyObservations(t *testing.T) {
	cfg := engineConfig()
	cfg.Ignore = []string{"127.0.0.1"}
	m, _ := newTestManager(t, cfg, Deps{})

	m.Handle(traffic(wire.TypeTrafficData, "127.0.0.1", "203.0.113.5", 1, 10))
	m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 0, 0))
	m.Handle(dnsMsg(t, wire.TypeDNSAnswer, "127.0.0.1", "localhost"))
	m.Handle(wire.Message{Type: wire.TypeTrafficData})

	assert.Empty(t, m.Nodes())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.skipped.WithLabelValues("ignored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.skipped.WithLabelValues("empty")))
}

func TestBlockedObservationsAreReportedSeparately(t *testing.T) {
	m, _ := newTestManager(t, engineConfig(), Deps{})

	m.Handle(traffic(wire.TypeBlocked, "192.168.1.10", "203.0.113.5", 2, 120))
	report := m.Flush()
	assert.Empty(t, report.Flows)
	require.Len(t, report.Blocked, 1)
	assert.Equal(t, uint64(120), report.Blocked[0].Bytes)
	assert.Len(t, report.Nodes, 2)

	assert.Empty(t, m.Flush().Blocked)
}

func TestDNSAnswerAndQuery(t *testing.T) {
	m, _ := newTestManager(t, engineConfig(), Deps{})

	m.Handle(dnsMsg(t, wire.TypeDNSAnswer, "192.0.2.1", "example.com"))
	m.Handle(dnsMsg(t, wire.TypeDNSQuery, "192.168.1.10", "example.com"))
	m.Handle(dnsMsg(t, wire.TypeDNSQuery, "192.168.1.10", "example.org"))

	nodes := m.Nodes()
	require.Len(t, nodes, 3)
	assert.True(t, nodes[0].HasIP(netip.MustParseAddr("192.0.2.1")))
	assert.True(t, nodes[0].HasDomain("example.com"))
	assert.True(t, nodes[1].HasIP(netip.MustParseAddr("192.168.1.10")))
	assert.Empty(t, nodes[1].Domains)
	assert.True(t, nodes[2].HasDomain("example.org"))
	assert.Empty(t, nodes[2].IPs)
}

func TestSetFlowBlockSurvivesRestart(t *testing.T) {
	pairs, stored := &memPairs{}, &memNodes{}
	m, _ := newTestManager(t, engineConfig(), Deps{PairStore: pairs, NodeStore: stored})
	require.NoError(t, m.Restore())

	m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 1, 10))
	m.Handle(traffic(wire.TypeTrafficData, "192.168.1.11", "203.0.113.6", 1, 10))
	require.NoError(t, m.SetFlowBlock(3, 4, true))
	require.NoError(t, m.SetFlowBlock(4, 3, true))
	assert.Equal(t, []blockflow.Pair{{A: 3, B: 4}}, m.FlowBlocks())
	assert.Len(t, stored.nodes, 2)

	assert.ErrorIs(t, m.SetFlowBlock(3, 99, true), blockflow.ErrUnknownNode)

	restarted, _ := newTestManager(t, engineConfig(), Deps{PairStore: pairs, NodeStore: stored})
	require.NoError(t, restarted.Restore())
	blocks := restarted.FlowBlocks()
	require.Len(t, blocks, 1)

	a, err := restarted.Node(blocks[0].A)
	require.NoError(t, err)
	b, err := restarted.Node(blocks[0].B)
	require.NoError(t, err)
	assert.True(t, a.HasIP(netip.MustParseAddr("192.168.1.11")))
	assert.True(t, b.HasIP(netip.MustParseAddr("203.0.113.6")))
	assert.Equal(t, 1, a.Persistent)
}

func TestSetDeviceName(t *testing.T) {
	registry := names.NewRegistry(filepath.Join(t.TempDir(), "names.yaml"), "", "")
	neighbors := staticNeighbors{netip.MustParseAddr("192.168.1.10"): deviceMAC}
	m, _ := newTestManager(t, engineConfig(), Deps{Names: registry, Neighbors: neighbors})

	m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 1, 10))
	require.NoError(t, m.SetDeviceName(1, "laptop"))
	require.NoError(t, m.SetDeviceName(2, "server"))

	n, err := m.Node(1)
	require.NoError(t, err)
	assert.Equal(t, "laptop", n.Name)
	assert.Equal(t, "laptop", registry.LookupName(deviceMAC, netip.Addr{}))
	assert.Equal(t, "server", registry.LookupName("", netip.MustParseAddr("203.0.113.5")))

	// New nodes pick stored names up.
	require.NoError(t, registry.SetName("", []netip.Addr{netip.MustParseAddr("198.51.100.7")}, "backup"))
	m.Handle(traffic(wire.TypeTrafficData, "203.0.113.5", "198.51.100.7", 1, 10))
	n, err = m.Node(3)
	require.NoError(t, err)
	assert.Equal(t, "backup", n.Name)

	assert.ErrorIs(t, m.SetDeviceName(42, "nobody"), nodecache.ErrUnknownNode)
}

func TestAddNodeIP(t *testing.T) {
	m, _ := newTestManager(t, engineConfig(), Deps{})

	n, err := m.AddNodeIP(0, netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n.ID)

	n, err = m.AddNodeIP(1, netip.MustParseAddr("fd00::1"))
	require.NoError(t, err)
	assert.Len(t, n.IPs, 2)

	_, err = m.AddNodeIP(0, netip.MustParseAddr("10.0.0.1"))
	assert.ErrorIs(t, err, nodecache.ErrIPInUse)
	_, err = m.AddNodeIP(7, netip.MustParseAddr("10.0.0.2"))
	assert.ErrorIs(t, err, nodecache.ErrUnknownNode)
}

func TestSweepEvictsAndCleans(t *testing.T) {
	cfg := engineConfig()
	cfg.NodeStaleTimeout = "1m"
	neighbors := staticNeighbors{netip.MustParseAddr("192.168.1.10"): deviceMAC}
	m, clk := newTestManager(t, cfg, Deps{Neighbors: neighbors})

	m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 1, 10))
	m.Sweep()
	flows, err := m.DeviceFlows(deviceMAC)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	m.Sweep()
	flows, err = m.DeviceFlows(deviceMAC)
	require.NoError(t, err)
	assert.Empty(t, flows)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.evictions))

	clk.t = clk.t.Add(2 * time.Minute)
	m.Sweep()
	assert.Empty(t, m.Nodes())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.cleaned))
}

func TestRefreshNeighborsMergesNodes(t *testing.T) {
	neighbors := staticNeighbors{}
	m, _ := newTestManager(t, engineConfig(), Deps{Neighbors: neighbors})

	m.Handle(traffic(wire.TypeTrafficData, "192.168.1.10", "203.0.113.5", 1, 10))
	m.Handle(traffic(wire.TypeTrafficData, "fe80::1", "2001:db8::5", 1, 10))
	require.Len(t, m.Nodes(), 4)

	neighbors[netip.MustParseAddr("192.168.1.10")] = deviceMAC
	neighbors[netip.MustParseAddr("fe80::1")] = deviceMAC
	m.RefreshNeighbors()

	nodes := m.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, deviceMAC, nodes[0].MAC)
	assert.Len(t, nodes[0].IPs, 2)
	assert.Equal(t, uint64(1), m.Stats().Merges)
}

func TestStartStopWritesFinalReport(t *testing.T) {
	w := &memWriter{}
	m, _ := newTestManager(t, engineConfig(), Deps{Writers: []model.Writer{w}})
	m.Start()

	obs := wire.NewPacketObservation(17, netip.MustParseAddr("192.168.1.10"), netip.MustParseAddr("192.0.2.53"), 5353, 53, 1, 64)
	require.NoError(t, m.ObservePacket(wire.TypeTrafficData, &obs))
	m.Input() <- dnsMsg(t, wire.TypeDNSAnswer, "192.0.2.53", "dns.example")
	m.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.Len(t, w.reports, 1)
	assert.Len(t, w.reports[0].Flows, 1)
	assert.Equal(t, uint64(64), w.reports[0].TotalBytes)
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cfg := engineConfig()
	cfg.FlushInterval = ""
	_, err := NewManager(cfg, Deps{Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)

	cfg = engineConfig()
	cfg.Ignore = []string{"not-an-ip"}
	_, err = NewManager(cfg, Deps{Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}
