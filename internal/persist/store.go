// Package persist stores persistent nodes and blocked node pairs in SQLite so
// they survive restarts.
package persist

import (
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/nodecache"
	"database/sql"
	"fmt"
	"log/slog"
	"net/netip"

	_ "modernc.org/sqlite"
)

// Store handles persistence of nodes and node pairs to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open node db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize node db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		mac TEXT NOT NULL DEFAULT '',
		is_blocked BOOLEAN NOT NULL DEFAULT 0,
		is_allowed BOOLEAN NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS node_ips (
		node_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		ip TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS node_domains (
		node_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		domain TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS node_pairs (
		a INTEGER NOT NULL,
		b INTEGER NOT NULL,
		PRIMARY KEY (a, b)
	);
	CREATE INDEX IF NOT EXISTS idx_node_ips_node ON node_ips(node_id);
	CREATE INDEX IF NOT EXISTS idx_node_domains_node ON node_domains(node_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadPairs implements blockflow.Store.
func (s *Store) LoadPairs() ([]blockflow.Pair, error) {
	rows, err := s.db.Query(`SELECT a, b FROM node_pairs ORDER BY a, b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []blockflow.Pair
	for rows.Next() {
		var p blockflow.Pair
		if err := rows.Scan(&p.A, &p.B); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// SavePairs implements blockflow.Store. The stored set is replaced.
func (s *Store) SavePairs(pairs []blockflow.Pair) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM node_pairs`); err != nil {
		return err
	}
	for _, p := range pairs {
		if _, err := tx.Exec(`INSERT INTO node_pairs (a, b) VALUES (?, ?)`, p.A, p.B); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveNodes replaces the stored nodes with nodes.
func (s *Store) SaveNodes(nodes []*nodecache.Node) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM node_ips`, `DELETE FROM node_domains`, `DELETE FROM nodes`} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		_, err := tx.Exec(`
			INSERT INTO nodes (id, name, mac, is_blocked, is_allowed, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.Name, n.MAC, n.IsBlocked, n.IsAllowed, n.LastSeen)
		if err != nil {
			return fmt.Errorf("failed to save node %d: %w", n.ID, err)
		}
		for _, ip := range n.IPList() {
			if _, err := tx.Exec(`INSERT INTO node_ips (node_id, ip) VALUES (?, ?)`, n.ID, ip.String()); err != nil {
				return err
			}
		}
		for _, d := range n.DomainList() {
			if _, err := tx.Exec(`INSERT INTO node_domains (node_id, domain) VALUES (?, ?)`, n.ID, d); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadNodes returns the stored nodes, ordered by id, with the ids they had
// when saved.
func (s *Store) LoadNodes() ([]*nodecache.Node, error) {
	rows, err := s.db.Query(`SELECT id, name, mac, is_blocked, is_allowed, last_seen FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var nodes []*nodecache.Node
	byID := make(map[int]*nodecache.Node)
	for rows.Next() {
		n := nodecache.NewNode(0)
		if err := rows.Scan(&n.ID, &n.Name, &n.MAC, &n.IsBlocked, &n.IsAllowed, &n.LastSeen); err != nil {
			rows.Close()
			return nil, err
		}
		nodes = append(nodes, n)
		byID[n.ID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ipRows, err := s.db.Query(`SELECT node_id, ip FROM node_ips`)
	if err != nil {
		return nil, err
	}
	for ipRows.Next() {
		var id int
		var raw string
		if err := ipRows.Scan(&id, &raw); err != nil {
			ipRows.Close()
			return nil, err
		}
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			slog.Warn("skipping stored node address", "node", id, "ip", raw, "error", err)
			continue
		}
		if n := byID[id]; n != nil {
			n.AddIP(ip)
		}
	}
	ipRows.Close()

	domainRows, err := s.db.Query(`SELECT node_id, domain FROM node_domains`)
	if err != nil {
		return nil, err
	}
	defer domainRows.Close()
	for domainRows.Next() {
		var id int
		var domain string
		if err := domainRows.Scan(&id, &domain); err != nil {
			return nil, err
		}
		if n := byID[id]; n != nil {
			n.AddDomain(domain)
		}
	}
	return nodes, domainRows.Err()
}
