package nodecache

import (
	"net/netip"
	"sort"
)

// Node is one device on the network as far as the cache can tell, identified
// by any of its addresses, domain names or MAC.
type Node struct {
	ID int
	// IPs are stored unmapped; see IPKey.
	IPs map[netip.Addr]struct{}
	// Domains maps DomainKey to the name as first observed.
	Domains map[string]string
	MAC     string
	Name    string

	LastSeen int64
	// Modified is the last time a key, the name or the MAC changed.
	Modified int64

	// Persistent > 0 keeps the node out of stale cleanup.
	Persistent int
	IsBlocked  bool
	IsAllowed  bool

	Device *Device
	// References is the number of peers in the node's own device table.
	References int
	// PeerOf counts the device tables of other nodes that list this node.
	PeerOf int
}

// NewNode returns an empty node. An id of 0 lets the cache allocate one.
func NewNode(id int) *Node {
	return &Node{
		ID:      id,
		IPs:     make(map[netip.Addr]struct{}),
		Domains: make(map[string]string),
	}
}

// AddIP adds an address to a node that is not yet in a cache.
func (n *Node) AddIP(ip netip.Addr) {
	n.IPs[IPKey(ip)] = struct{}{}
}

// AddDomain adds a domain to a node that is not yet in a cache.
func (n *Node) AddDomain(domain string) {
	k := DomainKey(domain)
	if _, ok := n.Domains[k]; !ok {
		n.Domains[k] = domain
	}
}

func (n *Node) HasIP(ip netip.Addr) bool {
	_, ok := n.IPs[IPKey(ip)]
	return ok
}

func (n *Node) HasDomain(domain string) bool {
	_, ok := n.Domains[DomainKey(domain)]
	return ok
}

// DisplayName returns the name, the MAC, or "<unknown>", whichever is set first.
func (n *Node) DisplayName() string {
	switch {
	case n.Name != "":
		return n.Name
	case n.MAC != "":
		return n.MAC
	default:
		return "<unknown>"
	}
}

// IPList returns the node's addresses in sorted order.
func (n *Node) IPList() []netip.Addr {
	ips := make([]netip.Addr, 0, len(n.IPs))
	for ip := range n.IPs {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool { return ips[i].Less(ips[j]) })
	return ips
}

// DomainList returns the node's domains as observed, sorted by key.
func (n *Node) DomainList() []string {
	keys := make([]string, 0, len(n.Domains))
	for k := range n.Domains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = n.Domains[k]
	}
	return out
}

// Clone returns a deep copy that is safe to use after the cache lock is released.
func (n *Node) Clone() *Node {
	c := *n
	c.IPs = make(map[netip.Addr]struct{}, len(n.IPs))
	for ip := range n.IPs {
		c.IPs[ip] = struct{}{}
	}
	c.Domains = make(map[string]string, len(n.Domains))
	for k, v := range n.Domains {
		c.Domains[k] = v
	}
	if n.Device != nil {
		c.Device = n.Device.clone()
	}
	return &c
}

// absorb unions src into n following the merge policy. It reports whether
// both nodes carried different MACs.
func (n *Node) absorb(src *Node) (macConflict bool) {
	for ip := range src.IPs {
		n.IPs[ip] = struct{}{}
	}
	for k, v := range src.Domains {
		if _, ok := n.Domains[k]; !ok {
			n.Domains[k] = v
		}
	}
	switch {
	case n.MAC == "":
		n.MAC = src.MAC
	case src.MAC != "" && src.MAC != n.MAC:
		macConflict = true
	}
	if n.Name == "" {
		n.Name = src.Name
	}
	if src.LastSeen > n.LastSeen {
		n.LastSeen = src.LastSeen
	}
	if src.Modified > n.Modified {
		n.Modified = src.Modified
	}
	n.IsBlocked = n.IsBlocked || src.IsBlocked
	n.IsAllowed = n.IsAllowed || src.IsAllowed
	n.Persistent += src.Persistent
	return macConflict
}
