package manager

import (
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/nodecache"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// ErrUnknownDevice is returned for a MAC that belongs to no node.
var ErrUnknownDevice = errors.New("unknown device")

// DeviceFlow is one entry of a device's peer table.
type DeviceFlow struct {
	Peer     int    `json:"peer"`
	PeerName string `json:"peer_name"`
	nodecache.DeviceFlow
}

// NodeReport converts a node to its published form.
func NodeReport(n *nodecache.Node) model.NodeReport {
	r := model.NodeReport{
		ID:        n.ID,
		Name:      n.Name,
		MAC:       n.MAC,
		IPs:       make([]string, 0, len(n.IPs)),
		Domains:   n.DomainList(),
		LastSeen:  time.Unix(n.LastSeen, 0).UTC(),
		IsBlocked: n.IsBlocked,
		IsAllowed: n.IsAllowed,
	}
	for _, ip := range n.IPList() {
		r.IPs = append(r.IPs, ip.String())
	}
	return r
}

// Nodes returns copies of all nodes ordered by id.
func (m *Manager) Nodes() []*nodecache.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.cache.Nodes())
}

// Node returns a copy of the node with the given id.
func (m *Manager) Node(id int) (*nodecache.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.cache.FindByID(id)
	if n == nil {
		return nil, fmt.Errorf("node %d: %w", id, nodecache.ErrUnknownNode)
	}
	return n.Clone(), nil
}

// Devices returns copies of the nodes that have a device flow table.
func (m *Manager) Devices() []*nodecache.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.cache.Devices())
}

// DeviceFlows returns the peer table of the device with the given MAC,
// ordered by peer id.
func (m *Manager) DeviceFlows(mac string) ([]DeviceFlow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.cache.FindByMAC(mac)
	if n == nil {
		return nil, fmt.Errorf("device %s: %w", mac, ErrUnknownDevice)
	}
	if n.Device == nil {
		return []DeviceFlow{}, nil
	}
	flows := make([]DeviceFlow, 0, n.Device.Len())
	for _, peer := range n.Device.Peers() {
		f := DeviceFlow{Peer: peer, DeviceFlow: *n.Device.Flow(peer)}
		if p := m.cache.FindByID(peer); p != nil {
			f.PeerName = p.DisplayName()
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// AddNodeIP adds ip to node id, or to a new node when id is 0.
func (m *Manager) AddNodeIP(id int, ip netip.Addr) (*nodecache.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.cache.AddIP(id, ip, m.now().Unix())
	if err != nil {
		return nil, err
	}
	if n.Persistent > 0 {
		m.nodesDirty = true
	}
	return n.Clone(), nil
}

// SetFlowBlock blocks or unblocks traffic between two nodes. The nodes
// involved are saved right away so the pair can be restored after a restart.
func (m *Manager) SetFlowBlock(a, b int, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ledger.SetBlock(a, b, blocked); err != nil {
		return err
	}
	if err := m.saveNodesLocked(); err != nil {
		m.nodesDirty = true
		return fmt.Errorf("failed to save persistent nodes: %w", err)
	}
	return nil
}

// FlowBlocks returns the blocked pairs.
func (m *Manager) FlowBlocks() []blockflow.Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Pairs()
}

// SetDeviceName names a node and remembers the name for its MAC, or for its
// addresses when it has no MAC.
func (m *Manager) SetDeviceName(id int, name string) error {
	m.mu.Lock()
	n := m.cache.FindByID(id)
	if n == nil {
		m.mu.Unlock()
		return fmt.Errorf("set name of node %d: %w", id, nodecache.ErrUnknownNode)
	}
	if err := m.cache.SetName(id, name, m.now().Unix()); err != nil {
		m.mu.Unlock()
		return err
	}
	mac, ips := n.MAC, n.IPList()
	if n.Persistent > 0 {
		m.nodesDirty = true
	}
	m.mu.Unlock()

	if m.names == nil {
		return nil
	}
	if err := m.names.SetName(mac, ips, name); err != nil {
		return fmt.Errorf("failed to store name of node %d: %w", id, err)
	}
	slog.Info("device name set", "node", id, "mac", mac, "name", name)
	return nil
}

// Stats returns the node cache counters.
func (m *Manager) Stats() nodecache.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Stats()
}

func cloneAll(nodes []*nodecache.Node) []*nodecache.Node {
	out := make([]*nodecache.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
