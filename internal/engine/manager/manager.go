package manager

import (
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/flowaggregator"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/nodecache"
	"Go2NetNodes/internal/persist"
	"Go2NetNodes/internal/wire"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeStore persists the nodes named by blocked pairs.
type NodeStore interface {
	SaveNodes(nodes []*nodecache.Node) error
	LoadNodes() ([]*nodecache.Node, error)
}

// NameRegistry provides and stores device names.
type NameRegistry interface {
	LookupName(mac string, ip netip.Addr) string
	SetName(mac string, ips []netip.Addr, name string) error
	ReloadDHCP() error
}

// NeighborTable maps addresses on the local network to MACs.
type NeighborTable interface {
	LookupMAC(ip netip.Addr) string
	Refresh() (map[netip.Addr]string, error)
}

// Deps are the collaborators of a Manager. All of them are optional.
type Deps struct {
	Writers   []model.Writer
	PairStore blockflow.Store
	NodeStore NodeStore
	Names     NameRegistry
	Neighbors NeighborTable
	// Registerer receives the manager's metrics. nil selects the default
	// Prometheus registerer.
	Registerer prometheus.Registerer
	// Now overrides the clock.
	Now func() time.Time
}

var _ model.Aggregator = (*Manager)(nil)

// Manager owns the node cache, the flow aggregator and the blockflow ledger,
// feeds them from an input channel and periodically publishes traffic
// reports to its writers.
type Manager struct {
	// mu guards cache, ledger, blocked, lastPublish and nodesDirty.
	mu          sync.RWMutex
	cache       *nodecache.Cache
	flows       *flowaggregator.FlowAggregator
	ledger      *blockflow.Ledger
	blocked     []model.FlowReport
	lastPublish int64
	nodesDirty  bool

	cfg       config.EngineConfig
	ignore    map[netip.Addr]struct{}
	writers   []model.Writer
	nodeStore NodeStore
	names     NameRegistry
	neighbors NeighborTable
	metrics   *metrics
	now       func() time.Time

	flushInterval    time.Duration
	sweepInterval    time.Duration
	neighborInterval time.Duration
	staleTimeout     time.Duration

	// A single worker drains the input; the cache is serialized anyway.
	input    chan wire.Message
	workerWg sync.WaitGroup

	done     chan struct{}
	tickerWg sync.WaitGroup
}

// NewManager creates a Manager. Call Restore before Start to bring back the
// persisted blocked pairs.
func NewManager(cfg config.EngineConfig, deps Deps) (*Manager, error) {
	m := &Manager{
		cache:     nodecache.New(),
		flows:     flowaggregator.NewFlowAggregator(0),
		cfg:       cfg,
		ignore:    make(map[netip.Addr]struct{}),
		writers:   deps.Writers,
		nodeStore: deps.NodeStore,
		names:     deps.Names,
		neighbors: deps.Neighbors,
		now:       deps.Now,
		done:      make(chan struct{}),
		input:     make(chan wire.Message, max(cfg.SizeOfPacketChannel, 1)),
	}
	if m.now == nil {
		m.now = time.Now
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"flush interval", cfg.FlushInterval, &m.flushInterval},
		{"sweep interval", cfg.SweepInterval, &m.sweepInterval},
		{"neighbor interval", cfg.NeighborInterval, &m.neighborInterval},
		{"node stale timeout", cfg.NodeStaleTimeout, &m.staleTimeout},
	} {
		v, err := config.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if m.flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be a positive duration")
	}

	for _, raw := range cfg.Ignore {
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore address %q: %w", raw, err)
		}
		m.ignore[nodecache.IPKey(ip)] = struct{}{}
	}

	if m.names != nil || m.neighbors != nil {
		m.cache.SetResolver(resolver{names: m.names, neighbors: m.neighbors})
	}
	m.ledger = blockflow.NewLedger(m.cache, deps.PairStore)
	m.cache.SetBlockChecker(m.ledger)
	m.cache.OnMerge(func(survivor, absorbed int) {
		m.ledger.Remap(survivor, absorbed)
		if n := m.cache.FindByID(survivor); n != nil && n.Persistent > 0 {
			m.nodesDirty = true
		}
	})

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m.metrics = newMetrics(m)
	m.metrics.register(reg)
	return m, nil
}

// Restore re-adds the persisted nodes and the blocked pairs between them.
// Stored node ids are translated to the ids the nodes get in this cache.
func (m *Manager) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idmap map[int]int
	if m.nodeStore != nil {
		stored, err := m.nodeStore.LoadNodes()
		if err != nil {
			return fmt.Errorf("failed to load persistent nodes: %w", err)
		}
		idmap = persist.Reconcile(m.cache, stored)
	}
	if err := m.ledger.Restore(idmap); err != nil {
		return err
	}
	return m.saveNodesLocked()
}

// Start launches the worker and the periodic flush, sweep and neighbor loops.
func (m *Manager) Start() {
	m.workerWg.Add(1)
	go m.worker()

	m.tickerWg.Add(1)
	go m.runFlusher()
	slog.Info("started flusher", "interval", m.flushInterval, "writers", len(m.writers))

	if m.sweepInterval > 0 {
		m.tickerWg.Add(1)
		go m.runTicker(m.sweepInterval, m.Sweep)
		slog.Info("started device sweeper", "interval", m.sweepInterval, "max_idle_periods", m.cfg.MaxIdlePeriods)
	}
	if m.neighbors != nil && m.neighborInterval > 0 {
		m.RefreshNeighbors()
		m.tickerWg.Add(1)
		go m.runTicker(m.neighborInterval, m.RefreshNeighbors)
		slog.Info("started neighbor refresher", "interval", m.neighborInterval)
	}
	slog.Info("manager started")
}

// Stop drains the input, writes a final report and closes the writers.
func (m *Manager) Stop() {
	slog.Info("manager stopping")
	// 1. Stop accepting new messages.
	close(m.input)

	// 2. Wait for the worker to finish the buffered messages.
	m.workerWg.Wait()

	// 3. Signal the periodic loops; the flusher writes a last report.
	close(m.done)
	m.tickerWg.Wait()

	m.mu.Lock()
	if err := m.saveNodesLocked(); err != nil {
		slog.Error("failed to save persistent nodes", "error", err)
	}
	m.mu.Unlock()

	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close writer", "writer", w.Name(), "error", err)
		}
	}
	slog.Info("manager stopped")
}

// Input returns the channel decoded messages are sent to.
func (m *Manager) Input() chan<- wire.Message {
	return m.input
}

// ObservePacket queues a packet observation. obs is copied.
func (m *Manager) ObservePacket(t wire.MessageType, obs *wire.PacketObservation) error {
	cp := *obs
	m.input <- wire.Message{Type: t, Packet: &cp}
	return nil
}

// ObserveDNS queues a DNS observation. obs is copied.
func (m *Manager) ObserveDNS(t wire.MessageType, obs *wire.DnsObservation) error {
	cp := *obs
	cp.DName = append([]byte(nil), obs.DName...)
	m.input <- wire.Message{Type: t, DNS: &cp}
	return nil
}

// DecodeFailed counts a message that could not be decoded.
func (m *Manager) DecodeFailed(err error) {
	m.metrics.decodeErrors.Inc()
	slog.Debug("dropping undecodable message", "error", err)
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for msg := range m.input {
		m.Handle(msg)
	}
}

func (m *Manager) runFlusher() {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Publish()
		case <-m.done:
			m.Publish()
			return
		}
	}
}

func (m *Manager) runTicker(interval time.Duration, fn func()) {
	defer m.tickerWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-m.done:
			return
		}
	}
}

// Handle applies a single message to the node cache and the flow aggregator.
func (m *Manager) Handle(msg wire.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().Unix()
	switch {
	case msg.Packet != nil:
		m.handlePacket(msg.Type, msg.Packet, ts)
	case msg.DNS != nil:
		m.handleDNS(msg.Type, msg.DNS, ts)
	default:
		m.metrics.skipped.WithLabelValues("empty").Inc()
		return
	}

	if m.cfg.Debug {
		if err := m.cache.Verify(); err != nil {
			slog.Error("node cache inconsistent", "type", msg.Type, "error", err)
		}
	}
}

func (m *Manager) handlePacket(t wire.MessageType, obs *wire.PacketObservation, ts int64) {
	if !t.IsPacket() {
		m.metrics.skipped.WithLabelValues("wrong_payload").Inc()
		return
	}
	if obs.PacketCount == 0 && obs.PayloadSize == 0 {
		m.metrics.skipped.WithLabelValues("empty").Inc()
		return
	}
	if m.ignored(obs.SrcIP()) || m.ignored(obs.DestIP()) {
		m.metrics.skipped.WithLabelValues("ignored").Inc()
		return
	}
	m.metrics.observations.WithLabelValues(t.String()).Inc()

	src, dst := m.cache.RecordPacketObservation(obs, ts)
	if src == nil || dst == nil {
		return
	}
	if t == wire.TypeBlocked {
		m.blocked = append(m.blocked, model.FlowReport{
			FromNode: src.ID,
			ToNode:   dst.ID,
			Protocol: obs.Protocol,
			FromPort: obs.SrcPort,
			ToPort:   obs.DestPort,
			Packets:  obs.PacketCount,
			Bytes:    obs.PayloadSize,
		})
		return
	}
	if !m.cfg.LocalMode && src.MAC == "" && dst.MAC == "" {
		m.metrics.skipped.WithLabelValues("not_local").Inc()
		return
	}
	m.cache.RecordFlow(src, dst, obs.PacketCount, obs.PayloadSize, ts)
	m.flows.ObservePacket(obs)
}

func (m *Manager) handleDNS(t wire.MessageType, obs *wire.DnsObservation, ts int64) {
	if m.ignored(obs.Addr()) {
		m.metrics.skipped.WithLabelValues("ignored").Inc()
		return
	}
	switch t {
	case wire.TypeDNSAnswer:
		m.cache.RecordDNSObservation(obs, ts)
	case wire.TypeDNSQuery:
		m.cache.RecordDNSQuery(obs, ts)
	default:
		m.metrics.skipped.WithLabelValues("wrong_payload").Inc()
		return
	}
	m.metrics.observations.WithLabelValues(t.String()).Inc()
}

func (m *Manager) ignored(ip netip.Addr) bool {
	_, ok := m.ignore[nodecache.IPKey(ip)]
	return ok
}

// Flush builds the report for the interval that ends now: the accumulated
// flows, the blocked traffic and the nodes changed since the last report.
func (m *Manager) Flush() *model.TrafficReport {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	report := m.flows.Flush(now, m.cache)
	report.Blocked = m.blocked
	m.blocked = nil
	for _, n := range m.cache.ModifiedSince(m.lastPublish) {
		report.Nodes = append(report.Nodes, NodeReport(n))
	}
	m.lastPublish = now.Unix()
	m.metrics.flushDuration.Observe(time.Since(start).Seconds())
	return report
}

// Publish flushes and hands the report to every writer.
func (m *Manager) Publish() {
	report := m.Flush()
	if report.Empty() {
		return
	}
	slog.Debug("publishing traffic report",
		"flows", len(report.Flows), "blocked", len(report.Blocked), "nodes", len(report.Nodes),
		"packets", report.TotalPackets, "bytes", report.TotalBytes)

	var wg sync.WaitGroup
	wg.Add(len(m.writers))
	for _, w := range m.writers {
		go func(w model.Writer) {
			defer wg.Done()
			if err := w.Write(report); err != nil {
				m.metrics.reports.WithLabelValues(w.Name(), "error").Inc()
				slog.Error("failed to write traffic report", "writer", w.Name(), "error", err)
				return
			}
			m.metrics.reports.WithLabelValues(w.Name(), "ok").Inc()
		}(w)
	}
	wg.Wait()
}

// Sweep closes an activity period on the device tables, evicts idle device
// flows, removes stale nodes and saves the persistent nodes if they changed.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := m.cache.SweepDevices(m.cfg.MaxIdlePeriods)
	m.metrics.evictions.Add(float64(evicted))

	var removed []int
	if m.staleTimeout > 0 {
		removed = m.cache.Clean(m.now().Add(-m.staleTimeout).Unix())
		m.metrics.cleaned.Add(float64(len(removed)))
	}
	if evicted > 0 || len(removed) > 0 {
		slog.Debug("swept node cache", "evicted_flows", evicted, "removed_nodes", len(removed), "nodes", m.cache.Len())
	}

	if m.nodesDirty {
		if err := m.saveNodesLocked(); err != nil {
			slog.Error("failed to save persistent nodes", "error", err)
		}
	}
}

// RefreshNeighbors rereads the neighbor table and DHCP names and attaches
// newly learned MACs to their nodes.
func (m *Manager) RefreshNeighbors() {
	if m.names != nil {
		if err := m.names.ReloadDHCP(); err != nil {
			slog.Warn("failed to reload DHCP names", "error", err)
		}
	}
	if m.neighbors == nil {
		return
	}
	entries, err := m.neighbors.Refresh()
	if err != nil {
		slog.Warn("failed to refresh neighbor table", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if updated := m.cache.UpdateNeighbors(entries, m.now().Unix()); updated > 0 {
		slog.Debug("attached MACs from neighbor table", "nodes", updated)
	}
}

func (m *Manager) saveNodesLocked() error {
	if m.nodeStore == nil {
		m.nodesDirty = false
		return nil
	}
	var persistent []*nodecache.Node
	for _, n := range m.cache.Nodes() {
		if n.Persistent > 0 {
			persistent = append(persistent, n)
		}
	}
	if err := m.nodeStore.SaveNodes(persistent); err != nil {
		return err
	}
	m.nodesDirty = false
	return nil
}

// resolver combines the neighbor table and the name registry for the cache.
type resolver struct {
	names     NameRegistry
	neighbors NeighborTable
}

func (r resolver) LookupMAC(ip netip.Addr) string {
	if r.neighbors == nil {
		return ""
	}
	return r.neighbors.LookupMAC(ip)
}

func (r resolver) LookupName(mac string, ip netip.Addr) string {
	if r.names == nil {
		return ""
	}
	return r.names.LookupName(mac, ip)
}
