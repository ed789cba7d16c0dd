package persist

import (
	"Go2NetNodes/internal/nodecache"
	"log/slog"
)

// Reconcile adds stored nodes to the cache under fresh ids and returns the
// mapping from each stored id to the id of the node that now holds its keys.
// Stored nodes without any key are dropped.
func Reconcile(cache *nodecache.Cache, stored []*nodecache.Node) map[int]int {
	added := make(map[int]*nodecache.Node, len(stored))
	for _, n := range stored {
		if len(n.IPs) == 0 && len(n.Domains) == 0 && n.MAC == "" {
			slog.Warn("dropping stored node without keys", "node", n.ID)
			continue
		}
		oldID := n.ID
		n.ID = 0
		n.Persistent = 0
		if _, err := cache.AddNode(n); err != nil {
			slog.Warn("failed to restore node", "node", oldID, "error", err)
			continue
		}
		added[oldID] = n
	}

	// A restored node may have been merged into another one; resolve through
	// its keys rather than its pointer.
	idmap := make(map[int]int, len(added))
	for oldID, n := range added {
		if cur := lookup(cache, n); cur != nil {
			idmap[oldID] = cur.ID
		}
	}
	slog.Info("restored nodes", "stored", len(stored), "mapped", len(idmap), "cache_size", cache.Len())
	return idmap
}

func lookup(cache *nodecache.Cache, n *nodecache.Node) *nodecache.Node {
	for ip := range n.IPs {
		if cur := cache.FindByIP(ip); cur != nil {
			return cur
		}
	}
	for _, d := range n.Domains {
		if cur := cache.FindByDomain(d); cur != nil {
			return cur
		}
	}
	if n.MAC != "" {
		return cache.FindByMAC(n.MAC)
	}
	return nil
}
