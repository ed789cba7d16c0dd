package nodecache

import "sort"

// DeviceFlow accumulates traffic between a device and one peer node.
type DeviceFlow struct {
	Packets          uint64 `json:"packets"`
	Bytes            uint64 `json:"bytes"`
	IdlePeriods      int    `json:"idle_periods"`
	ActiveLastPeriod bool   `json:"active_last_period"`
	Blocked          bool   `json:"blocked"`
	LastSeen         int64  `json:"lastseen"`
}

// Device is the per-node table of traffic to peer nodes, keyed by peer id.
type Device struct {
	Flows map[int]*DeviceFlow
}

func NewDevice() *Device {
	return &Device{Flows: make(map[int]*DeviceFlow)}
}

// RecordTraffic accumulates counters for peer, creating the entry on first
// use. It reports whether a new entry was created.
func (d *Device) RecordTraffic(peer int, packets, bytes uint64, ts int64) bool {
	f, ok := d.Flows[peer]
	if !ok {
		f = &DeviceFlow{}
		d.Flows[peer] = f
	}
	f.Packets += packets
	f.Bytes += bytes
	f.ActiveLastPeriod = true
	if ts > f.LastSeen {
		f.LastSeen = ts
	}
	return !ok
}

// Sweep closes an activity period: entries that saw no traffic during it
// gain an idle period, and every entry starts the next period inactive.
func (d *Device) Sweep() {
	for _, f := range d.Flows {
		if !f.ActiveLastPeriod {
			f.IdlePeriods++
		}
		f.ActiveLastPeriod = false
	}
}

// Evict removes entries idle for more than maxIdle periods and returns their
// peer ids. Blocked entries are never evicted.
func (d *Device) Evict(maxIdle int) []int {
	var evicted []int
	for peer, f := range d.Flows {
		if f.Blocked || f.IdlePeriods <= maxIdle {
			continue
		}
		delete(d.Flows, peer)
		evicted = append(evicted, peer)
	}
	sort.Ints(evicted)
	return evicted
}

// Flow returns the entry for peer, or nil.
func (d *Device) Flow(peer int) *DeviceFlow {
	return d.Flows[peer]
}

func (d *Device) Len() int {
	return len(d.Flows)
}

// Peers returns the peer ids in ascending order.
func (d *Device) Peers() []int {
	peers := make([]int, 0, len(d.Flows))
	for p := range d.Flows {
		peers = append(peers, p)
	}
	sort.Ints(peers)
	return peers
}

// merge adds f into the entry for peer. It reports whether the entry already
// existed.
func (d *Device) merge(peer int, f *DeviceFlow) bool {
	cur, ok := d.Flows[peer]
	if !ok {
		c := *f
		d.Flows[peer] = &c
		return false
	}
	cur.Packets += f.Packets
	cur.Bytes += f.Bytes
	cur.Blocked = cur.Blocked || f.Blocked
	cur.ActiveLastPeriod = cur.ActiveLastPeriod || f.ActiveLastPeriod
	if f.IdlePeriods < cur.IdlePeriods {
		cur.IdlePeriods = f.IdlePeriods
	}
	if f.LastSeen > cur.LastSeen {
		cur.LastSeen = f.LastSeen
	}
	return true
}

func (d *Device) clone() *Device {
	c := NewDevice()
	for peer, f := range d.Flows {
		cp := *f
		c.Flows[peer] = &cp
	}
	return c
}
