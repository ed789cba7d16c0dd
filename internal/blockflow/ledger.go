// Package blockflow keeps the set of node pairs whose traffic is blocked.
// Pairs survive restarts through a Store and follow node merges through
// Remap.
package blockflow

import (
	"Go2NetNodes/internal/nodecache"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrSelfPair    = errors.New("a node cannot block itself")
)

// Pair is an unordered pair of node ids, stored with A < B.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// NewPair returns the canonical form of the pair {a, b}.
func NewPair(a, b int) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Nodes is the part of the node cache the ledger updates.
type Nodes interface {
	FindByID(id int) *nodecache.Node
	AdjustPersistent(id, delta int) error
	SetFlowBlocked(a, b int, blocked bool)
}

// Store persists the pair set.
type Store interface {
	LoadPairs() ([]Pair, error)
	SavePairs(pairs []Pair) error
}

// Ledger is the set of blocked pairs. It is not safe for concurrent use.
type Ledger struct {
	nodes Nodes
	store Store
	pairs map[Pair]struct{}
}

// NewLedger returns an empty ledger. store may be nil, in which case nothing
// is persisted.
func NewLedger(nodes Nodes, store Store) *Ledger {
	return &Ledger{
		nodes: nodes,
		store: store,
		pairs: make(map[Pair]struct{}),
	}
}

// SetBlock blocks or unblocks traffic between nodes a and b. Requesting the
// current state again is a no-op.
func (l *Ledger) SetBlock(a, b int, blocked bool) error {
	changed, err := l.apply(a, b, blocked)
	if err != nil || !changed {
		return err
	}
	return l.save()
}

func (l *Ledger) apply(a, b int, blocked bool) (bool, error) {
	if a == b {
		return false, fmt.Errorf("block %d-%d: %w", a, b, ErrSelfPair)
	}
	for _, id := range []int{a, b} {
		if l.nodes.FindByID(id) == nil {
			return false, fmt.Errorf("block %d-%d: node %d: %w", a, b, id, ErrUnknownNode)
		}
	}

	p := NewPair(a, b)
	_, exists := l.pairs[p]
	if exists == blocked {
		return false, nil
	}

	delta := 1
	if blocked {
		l.pairs[p] = struct{}{}
	} else {
		delete(l.pairs, p)
		delta = -1
	}
	for _, id := range []int{p.A, p.B} {
		if err := l.nodes.AdjustPersistent(id, delta); err != nil {
			return true, err
		}
	}
	l.nodes.SetFlowBlocked(p.A, p.B, blocked)
	slog.Info("blockflow changed", "a", p.A, "b", p.B, "blocked", blocked)
	return true, nil
}

// IsBlocked reports whether traffic between a and b is blocked.
func (l *Ledger) IsBlocked(a, b int) bool {
	_, ok := l.pairs[NewPair(a, b)]
	return ok
}

// Pairs returns the blocked pairs in ascending order.
func (l *Ledger) Pairs() []Pair {
	out := make([]Pair, 0, len(l.pairs))
	for p := range l.pairs {
		out = append(out, p)
	}
	sortPairs(out)
	return out
}

func (l *Ledger) Len() int {
	return len(l.pairs)
}

// Remap moves every pair naming absorbed over to survivor. It is meant to be
// registered with the node cache's OnMerge. The cache has already summed the
// persistent counters of both nodes, so pairs that collapse are taken back
// out of them.
func (l *Ledger) Remap(survivor, absorbed int) {
	changed := false
	for p := range l.pairs {
		var other int
		switch absorbed {
		case p.A:
			other = p.B
		case p.B:
			other = p.A
		default:
			continue
		}
		delete(l.pairs, p)
		changed = true

		if other == survivor {
			// The pair became a node blocking itself.
			_ = l.nodes.AdjustPersistent(survivor, -2)
			continue
		}
		np := NewPair(survivor, other)
		if _, dup := l.pairs[np]; dup {
			_ = l.nodes.AdjustPersistent(survivor, -1)
			_ = l.nodes.AdjustPersistent(other, -1)
			continue
		}
		l.pairs[np] = struct{}{}
	}
	if !changed {
		return
	}
	slog.Debug("blockflow remapped", "survivor", survivor, "absorbed", absorbed)
	if err := l.save(); err != nil {
		slog.Error("failed to save blockflow after merge", "error", err)
	}
}

// Restore loads the persisted pairs, translating stored node ids through
// idmap (old id to current id). Pairs whose nodes did not survive
// reconciliation are dropped. A nil idmap keeps the ids as they are.
func (l *Ledger) Restore(idmap map[int]int) error {
	if l.store == nil {
		return nil
	}
	pairs, err := l.store.LoadPairs()
	if err != nil {
		return fmt.Errorf("failed to load blockflow pairs: %w", err)
	}
	restored := 0
	for _, p := range pairs {
		a, okA := translate(idmap, p.A)
		b, okB := translate(idmap, p.B)
		if !okA || !okB {
			slog.Warn("dropping blockflow pair for unknown node", "a", p.A, "b", p.B)
			continue
		}
		if _, err := l.apply(a, b, true); err != nil {
			slog.Warn("dropping blockflow pair", "a", a, "b", b, "error", err)
			continue
		}
		restored++
	}
	slog.Info("blockflow restored", "pairs", restored, "stored", len(pairs))
	return l.save()
}

func translate(idmap map[int]int, id int) (int, bool) {
	if idmap == nil {
		return id, true
	}
	n, ok := idmap[id]
	return n, ok
}

func (l *Ledger) save() error {
	if l.store == nil {
		return nil
	}
	if err := l.store.SavePairs(l.Pairs()); err != nil {
		return fmt.Errorf("failed to save blockflow pairs: %w", err)
	}
	return nil
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
}
