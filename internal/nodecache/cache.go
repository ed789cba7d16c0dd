// Package nodecache keeps the in-memory model of network nodes. A node is
// identified by any of its IP addresses, domain names or its MAC, and the
// cache merges nodes as soon as an observation shows two of them share a key.
//
// The cache is not safe for concurrent use; the engine manager serializes
// access to it.
package nodecache

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrDuplicateID = errors.New("node id already exists")
	ErrIPInUse     = errors.New("address already belongs to a node")
)

// Resolver enriches new nodes with data from outside the traffic stream.
// Both lookups return "" when nothing is known.
type Resolver interface {
	LookupMAC(ip netip.Addr) string
	LookupName(mac string, ip netip.Addr) string
}

// BlockChecker reports whether traffic between two nodes is blocked. It is
// consulted when a device table gains a new peer.
type BlockChecker interface {
	IsBlocked(a, b int) bool
}

// MergeFunc is called after absorbed has been merged into survivor.
type MergeFunc func(survivor, absorbed int)

// Stats are running counters since the cache was created.
type Stats struct {
	Created      uint64
	Merges       uint64
	MACConflicts uint64
	Removed      uint64
}

// Cache owns all nodes and the indices into them.
type Cache struct {
	nodes    map[int]*Node
	byIP     map[netip.Addr]*Node
	byMAC    map[string]*Node
	byDomain map[string]*Node

	nextID    int
	resolver  Resolver
	blocks    BlockChecker
	listeners []MergeFunc
	stats     Stats
}

// New returns an empty cache. Ids are allocated from 1.
func New() *Cache {
	return &Cache{
		nodes:    make(map[int]*Node),
		byIP:     make(map[netip.Addr]*Node),
		byMAC:    make(map[string]*Node),
		byDomain: make(map[string]*Node),
		nextID:   1,
	}
}

// SetResolver installs the MAC and name lookup used for new nodes.
func (c *Cache) SetResolver(r Resolver) {
	c.resolver = r
}

// SetBlockChecker installs the check applied to new device flow entries.
func (c *Cache) SetBlockChecker(b BlockChecker) {
	c.blocks = b
}

// OnMerge registers fn to be called for every merge.
func (c *Cache) OnMerge(fn MergeFunc) {
	c.listeners = append(c.listeners, fn)
}

func (c *Cache) Stats() Stats {
	return c.stats
}

func (c *Cache) Len() int {
	return len(c.nodes)
}

func (c *Cache) FindByID(id int) *Node {
	return c.nodes[id]
}

func (c *Cache) FindByIP(ip netip.Addr) *Node {
	return c.byIP[IPKey(ip)]
}

// FindByMAC accepts any MAC notation net.ParseMAC understands.
func (c *Cache) FindByMAC(mac string) *Node {
	k, err := MACKey(mac)
	if err != nil {
		return nil
	}
	return c.byMAC[k]
}

func (c *Cache) FindByDomain(domain string) *Node {
	return c.byDomain[DomainKey(domain)]
}

// Nodes returns all nodes ordered by id.
func (c *Cache) Nodes() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sortByID(out)
	return out
}

// Devices returns the nodes that carry a device flow table, ordered by id.
func (c *Cache) Devices() []*Node {
	var out []*Node
	for _, n := range c.nodes {
		if n.Device != nil {
			out = append(out, n)
		}
	}
	sortByID(out)
	return out
}

// ModifiedSince returns the nodes whose keys, name or MAC changed at or after ts.
func (c *Cache) ModifiedSince(ts int64) []*Node {
	var out []*Node
	for _, n := range c.nodes {
		if n.Modified >= ts {
			out = append(out, n)
		}
	}
	sortByID(out)
	return out
}

// AddNode inserts n into the cache, allocating an id if n.ID is 0. If any of
// n's keys already belong to other nodes, they are merged right away. It
// returns false and ErrDuplicateID if n.ID is already in use.
//
// True only means n was inserted: a merge can absorb it at once and retire
// its id, so callers that need the resulting node look it up by one of n's
// keys.
func (c *Cache) AddNode(n *Node) (bool, error) {
	if n.ID != 0 {
		if _, ok := c.nodes[n.ID]; ok {
			return false, fmt.Errorf("add node %d: %w", n.ID, ErrDuplicateID)
		}
	}
	if n.IPs == nil {
		n.IPs = make(map[netip.Addr]struct{})
	}
	if n.Domains == nil {
		n.Domains = make(map[string]string)
	}
	if n.MAC != "" {
		if mac, err := MACKey(n.MAC); err == nil {
			n.MAC = mac
		}
	}
	c.insert(n)
	c.settle(n)
	return true, nil
}

// Remove deletes a node and every device flow entry that refers to it.
func (c *Cache) Remove(id int) error {
	n, ok := c.nodes[id]
	if !ok {
		return fmt.Errorf("remove node %d: %w", id, ErrUnknownNode)
	}
	c.unindex(n)
	delete(c.nodes, id)
	if n.Device != nil {
		for peer := range n.Device.Flows {
			if p := c.nodes[peer]; p != nil {
				p.PeerOf--
			}
		}
	}
	for _, other := range c.nodes {
		if other.Device != nil {
			delete(other.Device.Flows, id)
			other.References = other.Device.Len()
		}
	}
	c.stats.Removed++
	return nil
}

// Clean removes nodes last seen before olderThan. Persistent nodes, nodes
// listed in another device table and nodes with device flows of their own are
// kept. It returns the removed ids.
func (c *Cache) Clean(olderThan int64) []int {
	var removed []int
	for id, n := range c.nodes {
		if n.LastSeen >= olderThan || n.Persistent > 0 || n.PeerOf > 0 || n.References > 0 {
			continue
		}
		removed = append(removed, id)
	}
	sort.Ints(removed)
	for _, id := range removed {
		_ = c.Remove(id)
	}
	return removed
}

// AdjustPersistent adds delta to the node's persistent counter, never
// letting it drop below zero.
func (c *Cache) AdjustPersistent(id, delta int) error {
	n, ok := c.nodes[id]
	if !ok {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	n.Persistent += delta
	if n.Persistent < 0 {
		n.Persistent = 0
	}
	return nil
}

func (c *Cache) insert(n *Node) {
	if n.ID == 0 {
		n.ID = c.nextID
	}
	if n.ID >= c.nextID {
		c.nextID = n.ID + 1
	}
	c.nodes[n.ID] = n
	c.stats.Created++
}

// settle merges n with every node it shares a key with until none is left,
// then indexes the survivor. It returns the survivor and whether any merge
// happened.
func (c *Cache) settle(n *Node) (*Node, bool) {
	merged := false
	for {
		other := c.conflict(n)
		if other == nil {
			break
		}
		n = c.merge(n, other)
		merged = true
	}
	c.index(n)
	return n, merged
}

// conflict returns a node other than n that owns one of n's keys.
func (c *Cache) conflict(n *Node) *Node {
	for ip := range n.IPs {
		if o := c.byIP[ip]; o != nil && o != n {
			return o
		}
	}
	if n.MAC != "" {
		if o := c.byMAC[n.MAC]; o != nil && o != n {
			return o
		}
	}
	for k := range n.Domains {
		if o := c.byDomain[k]; o != nil && o != n {
			return o
		}
	}
	return nil
}

// merge combines a and b. The node with the smaller id survives and is
// returned. Keys taken over from the absorbed node are left unindexed until
// settle finishes.
func (c *Cache) merge(a, b *Node) *Node {
	survivor, absorbed := a, b
	if b.ID < a.ID {
		survivor, absorbed = b, a
	}

	c.unindex(absorbed)
	delete(c.nodes, absorbed.ID)

	if survivor.absorb(absorbed) {
		c.stats.MACConflicts++
		slog.Warn("MAC conflict while merging nodes",
			"survivor", survivor.ID, "survivor_mac", survivor.MAC,
			"absorbed", absorbed.ID, "absorbed_mac", absorbed.MAC)
	}
	c.mergeDevices(survivor, absorbed)
	c.stats.Merges++

	slog.Debug("merged nodes", "survivor", survivor.ID, "absorbed", absorbed.ID)
	for _, fn := range c.listeners {
		fn(survivor.ID, absorbed.ID)
	}
	return survivor
}

// mergeDevices unions the absorbed device table into the survivor's and
// re-keys every peer entry that pointed at the absorbed node.
func (c *Cache) mergeDevices(survivor, absorbed *Node) {
	if absorbed.Device != nil {
		if survivor.Device == nil {
			survivor.Device = NewDevice()
		}
		for peer, f := range absorbed.Device.Flows {
			if peer == survivor.ID || peer == absorbed.ID {
				continue
			}
			if survivor.Device.merge(peer, f) {
				if p := c.nodes[peer]; p != nil {
					p.PeerOf--
				}
			}
		}
	}
	if survivor.Device != nil {
		delete(survivor.Device.Flows, absorbed.ID)
	}

	for _, n := range c.nodes {
		if n.Device == nil || n == survivor {
			continue
		}
		f, ok := n.Device.Flows[absorbed.ID]
		if !ok {
			continue
		}
		delete(n.Device.Flows, absorbed.ID)
		n.Device.merge(survivor.ID, f)
		n.References = n.Device.Len()
	}
	if survivor.Device != nil {
		survivor.References = survivor.Device.Len()
	}
	survivor.PeerOf = c.countPeerOf(survivor.ID)
}

func (c *Cache) countPeerOf(id int) int {
	refs := 0
	for _, n := range c.nodes {
		if n.ID == id || n.Device == nil {
			continue
		}
		if _, ok := n.Device.Flows[id]; ok {
			refs++
		}
	}
	return refs
}

func (c *Cache) index(n *Node) {
	for ip := range n.IPs {
		c.byIP[ip] = n
	}
	if n.MAC != "" {
		c.byMAC[n.MAC] = n
	}
	for k := range n.Domains {
		c.byDomain[k] = n
	}
}

func (c *Cache) unindex(n *Node) {
	for ip := range n.IPs {
		if c.byIP[ip] == n {
			delete(c.byIP, ip)
		}
	}
	if n.MAC != "" && c.byMAC[n.MAC] == n {
		delete(c.byMAC, n.MAC)
	}
	for k := range n.Domains {
		if c.byDomain[k] == n {
			delete(c.byDomain, k)
		}
	}
}

// Verify checks that the indices and the nodes agree and that no key is
// shared between two nodes.
func (c *Cache) Verify() error {
	seenIP := make(map[netip.Addr]int)
	seenDomain := make(map[string]int)
	seenMAC := make(map[string]int)
	for id, n := range c.nodes {
		if n.ID != id {
			return fmt.Errorf("node stored under id %d has id %d", id, n.ID)
		}
		for ip := range n.IPs {
			if other, ok := seenIP[ip]; ok {
				return fmt.Errorf("address %s shared by nodes %d and %d", ip, other, id)
			}
			seenIP[ip] = id
			if c.byIP[ip] != n {
				return fmt.Errorf("address %s of node %d not indexed", ip, id)
			}
		}
		for k := range n.Domains {
			if other, ok := seenDomain[k]; ok {
				return fmt.Errorf("domain %s shared by nodes %d and %d", k, other, id)
			}
			seenDomain[k] = id
			if c.byDomain[k] != n {
				return fmt.Errorf("domain %s of node %d not indexed", k, id)
			}
		}
		if n.MAC != "" {
			if other, ok := seenMAC[n.MAC]; ok {
				return fmt.Errorf("MAC %s shared by nodes %d and %d", n.MAC, other, id)
			}
			seenMAC[n.MAC] = id
		}
	}
	if len(seenIP) != len(c.byIP) {
		return fmt.Errorf("address index has %d entries, nodes hold %d", len(c.byIP), len(seenIP))
	}
	if len(seenDomain) != len(c.byDomain) {
		return fmt.Errorf("domain index has %d entries, nodes hold %d", len(c.byDomain), len(seenDomain))
	}
	for mac, n := range c.byMAC {
		if c.nodes[n.ID] != n || n.MAC != mac {
			return fmt.Errorf("MAC index entry %s points to stale node %d", mac, n.ID)
		}
	}
	return nil
}

func sortByID(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// NodeID returns the id of the node owning ip.
func (c *Cache) NodeID(ip netip.Addr) (int, bool) {
	n := c.byIP[IPKey(ip)]
	if n == nil {
		return 0, false
	}
	return n.ID, true
}
