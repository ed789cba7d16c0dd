// Package flowaggregator accumulates per-flow counters between flushes and
// turns them into traffic reports keyed by node ids.
package flowaggregator

import (
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/wire"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// NodeResolver maps a flow endpoint to the id of the node that owns it.
type NodeResolver interface {
	NodeID(ip netip.Addr) (int, bool)
}

// FlowAggregator is a sharded table of flow counters.
type FlowAggregator struct {
	shards     []*Shard
	shardCount uint32
	// flushMu keeps Observe out while a flush drains the shards.
	flushMu sync.RWMutex
}

// NewFlowAggregator creates an aggregator with the given number of shards. A
// shardCount of 0 selects the default.
func NewFlowAggregator(shardCount uint32) *FlowAggregator {
	if shardCount == 0 {
		shardCount = defaultShardCount
	}
	return &FlowAggregator{
		shards:     newShards(shardCount),
		shardCount: shardCount,
	}
}

// Flush resolves every accumulated flow to its endpoint nodes, returns them
// as a report and clears the table. Flows whose endpoints cannot be resolved
// are logged and left out of the report.
func (fa *FlowAggregator) Flush(ts time.Time, resolver NodeResolver) *model.TrafficReport {
	fa.flushMu.Lock()
	defer fa.flushMu.Unlock()

	report := &model.TrafficReport{Timestamp: ts}
	for _, shard := range fa.shards {
		shard.mu.Lock()
		for key, data := range shard.flows {
			src := wire.AddrFromWire(key.Family, key.SrcAddr)
			dst := wire.AddrFromWire(key.Family, key.DestAddr)
			from, okFrom := resolver.NodeID(src)
			to, okTo := resolver.NodeID(dst)
			if !okFrom || !okTo {
				slog.Error("flow endpoint has no node",
					"src", src, "dst", dst, "protocol", key.Protocol,
					"src_port", key.SrcPort, "dst_port", key.DestPort,
					"packets", data.PacketCount, "bytes", data.PayloadSize)
				continue
			}
			report.Flows = append(report.Flows, model.FlowReport{
				FromNode: from,
				ToNode:   to,
				Protocol: key.Protocol,
				FromPort: key.SrcPort,
				ToPort:   key.DestPort,
				Packets:  data.PacketCount,
				Bytes:    data.PayloadSize,
			})
			report.TotalPackets += data.PacketCount
			report.TotalBytes += data.PayloadSize
		}
		shard.flows = make(map[FlowKey]*FlowData)
		shard.mu.Unlock()
	}
	SortFlows(report.Flows)
	return report
}

// SortFlows orders flows by endpoints, then protocol and ports.
func SortFlows(flows []model.FlowReport) {
	sort.Slice(flows, func(i, j int) bool {
		a, b := flows[i], flows[j]
		switch {
		case a.FromNode != b.FromNode:
			return a.FromNode < b.FromNode
		case a.ToNode != b.ToNode:
			return a.ToNode < b.ToNode
		case a.Protocol != b.Protocol:
			return a.Protocol < b.Protocol
		case a.FromPort != b.FromPort:
			return a.FromPort < b.FromPort
		default:
			return a.ToPort < b.ToPort
		}
	})
}
