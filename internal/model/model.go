package model

import "time"

// FlowReport is the traffic between two nodes on one port pair during a
// flush interval.
type FlowReport struct {
	FromNode int    `json:"from_node"`
	ToNode   int    `json:"to_node"`
	Protocol uint8  `json:"protocol"`
	FromPort uint16 `json:"from_port"`
	ToPort   uint16 `json:"to_port"`
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
}

// NodeReport is the published view of a node.
type NodeReport struct {
	ID        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	MAC       string    `json:"mac,omitempty"`
	IPs       []string  `json:"ips"`
	Domains   []string  `json:"domains"`
	LastSeen  time.Time `json:"lastseen"`
	IsBlocked bool      `json:"is_blocked,omitempty"`
	IsAllowed bool      `json:"is_allowed,omitempty"`
}

// TrafficReport is produced once per flush interval.
type TrafficReport struct {
	Timestamp    time.Time    `json:"timestamp"`
	TotalPackets uint64       `json:"total_packets"`
	TotalBytes   uint64       `json:"total_bytes"`
	Flows        []FlowReport `json:"flows"`
	// Blocked lists traffic the firewall dropped since the previous report.
	Blocked []FlowReport `json:"blocked,omitempty"`
	// Nodes lists nodes that changed since the previous report.
	Nodes []NodeReport `json:"nodes,omitempty"`
}

// Empty reports whether r carries nothing worth writing.
func (r *TrafficReport) Empty() bool {
	return len(r.Flows) == 0 && len(r.Blocked) == 0 && len(r.Nodes) == 0
}
