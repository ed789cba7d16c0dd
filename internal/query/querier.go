package query

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/impl/traffic"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const defaultLimit = 100

var ErrInvalidRequest = errors.New("invalid query")

// PeerRequest selects the traffic history of one node.
type PeerRequest struct {
	Node int
	// Peer restricts the result to a single peer when non-zero.
	Peer  int
	Since time.Time
	Until time.Time
	// Blocked selects only blocked (true) or only passed (false) traffic
	// when set.
	Blocked *bool
	Limit   int
}

// PeerTotal is the traffic a node exchanged with one peer.
type PeerTotal struct {
	Peer     int       `json:"peer"`
	Packets  uint64    `json:"packets"`
	Bytes    uint64    `json:"bytes"`
	LastSeen time.Time `json:"lastseen"`
}

// NodeTotal is the traffic of one node in both directions.
type NodeTotal struct {
	Node    int    `json:"node"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// Querier defines the interface for querying recorded traffic.
type Querier interface {
	PeerTotals(ctx context.Context, req PeerRequest) ([]PeerTotal, error)
	TopNodes(ctx context.Context, since time.Time, limit int) ([]NodeTotal, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := traffic.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// PeerTotals sums the traffic between req.Node and each of its peers,
// largest first.
func (q *clickhouseQuerier) PeerTotals(ctx context.Context, req PeerRequest) ([]PeerTotal, error) {
	query, args, err := buildPeerQuery(req)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var totals []PeerTotal
	for rows.Next() {
		var (
			peer uint32
			t    PeerTotal
		)
		if err := rows.Scan(&peer, &t.Packets, &t.Bytes, &t.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan peer total: %w", err)
		}
		t.Peer = int(peer)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// TopNodes returns the nodes that moved the most bytes since the given time.
func (q *clickhouseQuerier) TopNodes(ctx context.Context, since time.Time, limit int) ([]NodeTotal, error) {
	query, args := buildTopNodesQuery(since, limit)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var totals []NodeTotal
	for rows.Next() {
		var (
			node uint32
			t    NodeTotal
		)
		if err := rows.Scan(&node, &t.Packets, &t.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan node total: %w", err)
		}
		t.Node = int(node)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}

func buildPeerQuery(req PeerRequest) (string, []any, error) {
	if req.Node <= 0 {
		return "", nil, fmt.Errorf("%w: node id %d", ErrInvalidRequest, req.Node)
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Until.Before(req.Since) {
		return "", nil, fmt.Errorf("%w: until before since", ErrInvalidRequest)
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			if(FromNode = ?, ToNode, FromNode) AS Peer,
			SUM(Packets) AS TotalPackets,
			SUM(Bytes) AS TotalBytes,
			MAX(Timestamp) AS LastSeen
		FROM node_traffic
		WHERE (FromNode = ? OR ToNode = ?)`)
	args := []any{uint32(req.Node), uint32(req.Node), uint32(req.Node)}

	var whereClauses []string
	if req.Peer > 0 {
		whereClauses = append(whereClauses, "(FromNode = ? OR ToNode = ?)")
		args = append(args, uint32(req.Peer), uint32(req.Peer))
	}
	if !req.Since.IsZero() {
		whereClauses = append(whereClauses, "Timestamp >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, req.Until)
	}
	if req.Blocked != nil {
		whereClauses = append(whereClauses, "Blocked = ?")
		var b uint8
		if *req.Blocked {
			b = 1
		}
		args = append(args, b)
	}
	for _, c := range whereClauses {
		queryBuilder.WriteString(" AND " + c)
	}

	queryBuilder.WriteString(`
		GROUP BY Peer
		ORDER BY TotalBytes DESC
		LIMIT ?`)
	args = append(args, limitOrDefault(req.Limit))
	return queryBuilder.String(), args, nil
}

func buildTopNodesQuery(since time.Time, limit int) (string, []any) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			Node,
			SUM(Packets) AS TotalPackets,
			SUM(Bytes) AS TotalBytes
		FROM node_traffic
		ARRAY JOIN [FromNode, ToNode] AS Node`)
	var args []any
	if !since.IsZero() {
		queryBuilder.WriteString(" WHERE Timestamp >= ?")
		args = append(args, since)
	}
	queryBuilder.WriteString(`
		GROUP BY Node
		ORDER BY TotalBytes DESC
		LIMIT ?`)
	args = append(args, limitOrDefault(limit))
	return queryBuilder.String(), args
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
