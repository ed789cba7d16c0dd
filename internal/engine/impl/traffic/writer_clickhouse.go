package traffic

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/model"
	"context"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTrafficTable = `
CREATE TABLE IF NOT EXISTS node_traffic (
    Timestamp DateTime,
    FromNode  UInt32,
    ToNode    UInt32,
    Protocol  UInt8,
    FromPort  UInt16,
    ToPort    UInt16,
    Packets   UInt64,
    Bytes     UInt64,
    Blocked   UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (FromNode, ToNode, Timestamp);
`

const createNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
    Timestamp DateTime,
    ID        UInt32,
    Name      String,
    MAC       String,
    IPs       Array(String),
    Domains   Array(String),
    LastSeen  DateTime
) ENGINE = ReplacingMergeTree(Timestamp)
ORDER BY ID;
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (model.Writer, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createTrafficTable, createNodesTable} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	slog.Info("connected to ClickHouse and ensured tables exist", "host", cfg.Host, "database", cfg.Database)

	return &ClickHouseWriter{conn: conn}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Write inserts the flows of r into node_traffic and the changed nodes into
// nodes.
func (w *ClickHouseWriter) Write(r *model.TrafficReport) error {
	ctx := context.Background()
	if len(r.Flows) > 0 || len(r.Blocked) > 0 {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO node_traffic")
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, set := range []struct {
			flows   []model.FlowReport
			blocked uint8
		}{{r.Flows, 0}, {r.Blocked, 1}} {
			for _, f := range set.flows {
				err := batch.Append(
					r.Timestamp,
					uint32(f.FromNode),
					uint32(f.ToNode),
					f.Protocol,
					f.FromPort,
					f.ToPort,
					f.Packets,
					f.Bytes,
					set.blocked,
				)
				if err != nil {
					return fmt.Errorf("failed to append flow to batch: %w", err)
				}
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}

	if len(r.Nodes) > 0 {
		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO nodes")
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, n := range r.Nodes {
			if err := batch.Append(r.Timestamp, uint32(n.ID), n.Name, n.MAC, n.IPs, n.Domains, n.LastSeen); err != nil {
				return fmt.Errorf("failed to append node to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}

	slog.Debug("wrote traffic report to ClickHouse", "flows", len(r.Flows), "blocked", len(r.Blocked), "nodes", len(r.Nodes))
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
