package nodecache

import (
	"Go2NetNodes/internal/wire"
	"fmt"
	"log/slog"
	"net/netip"
)

// RecordPacketObservation resolves or creates the nodes for both endpoints
// of obs and returns them.
func (c *Cache) RecordPacketObservation(obs *wire.PacketObservation, ts int64) (src, dst *Node) {
	srcIP, dstIP := IPKey(obs.SrcIP()), IPKey(obs.DestIP())
	c.recordIP(srcIP, ts)
	c.recordIP(dstIP, ts)
	// Recording the destination can merge the source away through a shared MAC.
	return c.byIP[srcIP], c.byIP[dstIP]
}

// RecordDNSObservation binds the answered domain to the answering address.
// When both already belong to the same node only LastSeen changes.
func (c *Cache) RecordDNSObservation(obs *wire.DnsObservation, ts int64) *Node {
	ip := IPKey(obs.Addr())
	domain := obs.Domain()
	if n := c.byIP[ip]; n != nil && n == c.byDomain[DomainKey(domain)] {
		c.touch(n, ts)
		return n
	}

	proto := NewNode(0)
	proto.AddIP(ip)
	proto.AddDomain(domain)
	if c.byIP[ip] == nil {
		c.enrich(proto, ip)
	}
	return c.bind(proto, ts)
}

// RecordDNSQuery records a query from a client for a domain. The domain and
// the client address end up in separate nodes; a query says nothing about
// where the domain lives.
func (c *Cache) RecordDNSQuery(obs *wire.DnsObservation, ts int64) (domain, client *Node) {
	ip := IPKey(obs.Addr())
	c.recordIP(ip, ts)

	name := obs.Domain()
	if n := c.byDomain[DomainKey(name)]; n != nil {
		c.touch(n, ts)
	} else {
		proto := NewNode(0)
		proto.AddDomain(name)
		c.bind(proto, ts)
	}
	return c.byDomain[DomainKey(name)], c.byIP[ip]
}

// AddIP adds ip to the node with the given id, or to a new node when id is
// 0. It fails with ErrIPInUse if the address already belongs to a node.
func (c *Cache) AddIP(id int, ip netip.Addr, ts int64) (*Node, error) {
	ip = IPKey(ip)
	if owner := c.byIP[ip]; owner != nil {
		return nil, fmt.Errorf("add %s to node %d: %w (node %d)", ip, id, ErrIPInUse, owner.ID)
	}
	var n *Node
	if id == 0 {
		n = NewNode(0)
		n.AddIP(ip)
		c.enrich(n, ip)
		c.insert(n)
	} else {
		n = c.nodes[id]
		if n == nil {
			return nil, fmt.Errorf("add %s to node %d: %w", ip, id, ErrUnknownNode)
		}
		n.IPs[ip] = struct{}{}
	}
	n, _ = c.settle(n)
	n.Modified = ts
	c.touch(n, ts)
	return n, nil
}

// SetName sets the display name of a node.
func (c *Cache) SetName(id int, name string, ts int64) error {
	n := c.nodes[id]
	if n == nil {
		return fmt.Errorf("set name of node %d: %w", id, ErrUnknownNode)
	}
	if n.Name != name {
		n.Name = name
		n.Modified = ts
	}
	return nil
}

// UpdateNeighbors attaches MACs from the neighbor table to nodes that have
// none yet. Nodes that turn out to share a MAC are merged. It returns the
// number of nodes that gained a MAC.
func (c *Cache) UpdateNeighbors(neighbors map[netip.Addr]string, ts int64) int {
	updated := 0
	for ip, mac := range neighbors {
		n := c.byIP[IPKey(ip)]
		if n == nil {
			continue
		}
		key, err := MACKey(mac)
		if err != nil {
			slog.Debug("skipping neighbor with invalid MAC", "ip", ip, "mac", mac)
			continue
		}
		if n.MAC != "" {
			if n.MAC != key {
				slog.Debug("neighbor MAC differs from node MAC", "node", n.ID, "node_mac", n.MAC, "neighbor_mac", key)
			}
			continue
		}
		n.MAC = key
		if n.Name == "" && c.resolver != nil {
			n.Name = c.resolver.LookupName(key, ip)
		}
		n.Modified = ts
		c.settle(n)
		updated++
	}
	return updated
}

// RecordFlow accounts traffic between src and dst in the device tables of
// both nodes, creating the tables on first use.
func (c *Cache) RecordFlow(src, dst *Node, packets, bytes uint64, ts int64) {
	if src == nil || dst == nil || src == dst {
		return
	}
	c.recordDeviceFlow(src, dst, packets, bytes, ts)
	c.recordDeviceFlow(dst, src, packets, bytes, ts)
}

func (c *Cache) recordDeviceFlow(dev, peer *Node, packets, bytes uint64, ts int64) {
	if dev.Device == nil {
		dev.Device = NewDevice()
	}
	if dev.Device.RecordTraffic(peer.ID, packets, bytes, ts) {
		peer.PeerOf++
		dev.References = dev.Device.Len()
		if c.blocks != nil && c.blocks.IsBlocked(dev.ID, peer.ID) {
			dev.Device.Flows[peer.ID].Blocked = true
		}
	}
}

// SetFlowBlocked marks the device flow entries between a and b, in both
// directions, as blocked or not. Missing entries are left alone.
func (c *Cache) SetFlowBlocked(a, b int, blocked bool) {
	for _, pair := range [][2]int{{a, b}, {b, a}} {
		n := c.nodes[pair[0]]
		if n == nil || n.Device == nil {
			continue
		}
		if f := n.Device.Flow(pair[1]); f != nil {
			f.Blocked = blocked
		}
	}
}

// SweepDevices closes an activity period on every device table and evicts
// entries idle for more than maxIdle periods. It returns the number of
// evicted entries.
func (c *Cache) SweepDevices(maxIdle int) int {
	evicted := 0
	for _, n := range c.nodes {
		if n.Device == nil {
			continue
		}
		n.Device.Sweep()
		for _, peer := range n.Device.Evict(maxIdle) {
			if p := c.nodes[peer]; p != nil {
				p.PeerOf--
			}
			evicted++
		}
		n.References = n.Device.Len()
	}
	return evicted
}

// recordIP returns the node owning ip, creating and enriching one if needed.
func (c *Cache) recordIP(ip netip.Addr, ts int64) *Node {
	if n := c.byIP[ip]; n != nil {
		c.touch(n, ts)
		return n
	}
	proto := NewNode(0)
	proto.AddIP(ip)
	c.enrich(proto, ip)
	return c.bind(proto, ts)
}

// bind merges the keys of proto, a node not in the cache, into the node that
// already owns one of them, or inserts proto as a new node. Further merges
// follow as needed.
func (c *Cache) bind(proto *Node, ts int64) *Node {
	n := c.conflict(proto)
	if n == nil {
		c.insert(proto)
		n = proto
		n.Modified = ts
	} else {
		ips, domains, mac, name := len(n.IPs), len(n.Domains), n.MAC, n.Name
		if n.absorb(proto) {
			slog.Debug("observed MAC differs from node MAC", "node", n.ID, "node_mac", n.MAC, "observed_mac", proto.MAC)
		}
		if len(n.IPs) != ips || len(n.Domains) != domains || n.MAC != mac || n.Name != name {
			n.Modified = ts
		}
	}
	n, merged := c.settle(n)
	if merged {
		n.Modified = ts
	}
	c.touch(n, ts)
	return n
}

// enrich fills in MAC and name for a node first seen at ip.
func (c *Cache) enrich(n *Node, ip netip.Addr) {
	if c.resolver == nil {
		return
	}
	if mac := c.resolver.LookupMAC(ip); mac != "" {
		if key, err := MACKey(mac); err == nil {
			n.MAC = key
		}
	}
	if n.Name == "" {
		n.Name = c.resolver.LookupName(n.MAC, ip)
	}
}

func (c *Cache) touch(n *Node, ts int64) {
	if ts > n.LastSeen {
		n.LastSeen = ts
	}
}
