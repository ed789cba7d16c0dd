package flowaggregator

import (
	"Go2NetNodes/internal/wire"
	"encoding/binary"
	"hash/fnv"
	"sync"
)

const defaultShardCount = 64

// FlowKey identifies a flow by family, protocol, addresses and ports.
type FlowKey = wire.FlowIdentity

// FlowData holds the counters accumulated for a flow since the last flush.
type FlowData struct {
	PacketCount uint64
	PayloadSize uint64
}

// Shard is a part of a sharded map, containing its own map and a mutex.
type Shard struct {
	flows map[FlowKey]*FlowData
	mu    sync.Mutex
}

func newShards(n uint32) []*Shard {
	shards := make([]*Shard, n)
	for i := range shards {
		shards[i] = &Shard{flows: make(map[FlowKey]*FlowData)}
	}
	return shards
}

// getShard returns the appropriate shard for a given key.
func (fa *FlowAggregator) getShard(key FlowKey) *Shard {
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:], key.SrcPort)
	binary.BigEndian.PutUint16(ports[2:], key.DestPort)

	hasher := fnv.New32a()
	hasher.Write([]byte{key.Family, key.Protocol})
	hasher.Write(key.SrcAddr[:])
	hasher.Write(key.DestAddr[:])
	hasher.Write(ports[:])
	return fa.shards[hasher.Sum32()%fa.shardCount]
}

// Observe adds packets and bytes to the flow identified by key, creating it
// on first use.
func (fa *FlowAggregator) Observe(key FlowKey, packets, bytes uint64) {
	fa.flushMu.RLock()
	defer fa.flushMu.RUnlock()

	shard := fa.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if flow, ok := shard.flows[key]; ok {
		flow.PacketCount += packets
		flow.PayloadSize += bytes
	} else {
		shard.flows[key] = &FlowData{PacketCount: packets, PayloadSize: bytes}
	}
}

// ObservePacket accumulates the counters of a packet observation.
func (fa *FlowAggregator) ObservePacket(obs *wire.PacketObservation) {
	fa.Observe(obs.Identity(), obs.PacketCount, obs.PayloadSize)
}

// GetFlowCount returns the total number of flows held since the last flush.
func (fa *FlowAggregator) GetFlowCount() int {
	count := 0
	for _, shard := range fa.shards {
		shard.mu.Lock()
		count += len(shard.flows)
		shard.mu.Unlock()
	}
	return count
}

// GetFlow returns a copy of the counters for a given key.
func (fa *FlowAggregator) GetFlow(key FlowKey) (FlowData, bool) {
	shard := fa.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if flow, ok := shard.flows[key]; ok {
		return *flow, true
	}
	return FlowData{}, false
}
