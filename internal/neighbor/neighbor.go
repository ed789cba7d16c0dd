// Package neighbor keeps a copy of the kernel's IP to MAC neighbor table.
package neighbor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"
)

const procARP = "/proc/net/arp"

// Source returns the current neighbor table as address to MAC.
type Source func() (map[netip.Addr]string, error)

// Table is a snapshot of the neighbor table. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[netip.Addr]string
	sources []Source
}

// NewTable returns a table that refreshes from the kernel over netlink and
// falls back to /proc/net/arp.
func NewTable() *Table {
	return NewTableWithSources(Netlink, ProcARP)
}

// NewTableWithSources returns a table that tries sources in order and keeps
// the result of the first one that succeeds.
func NewTableWithSources(sources ...Source) *Table {
	return &Table{
		entries: make(map[netip.Addr]string),
		sources: sources,
	}
}

// Refresh rereads the neighbor table and returns a copy of it.
func (t *Table) Refresh() (map[netip.Addr]string, error) {
	var errs []error
	for _, src := range t.sources {
		entries, err := src()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.mu.Lock()
		t.entries = entries
		t.mu.Unlock()
		slog.Debug("neighbor table refreshed", "entries", len(entries))
		return t.Snapshot(), nil
	}
	return nil, fmt.Errorf("failed to read neighbor table: %w", errors.Join(errs...))
}

// LookupMAC returns the MAC for ip, or "".
func (t *Table) LookupMAC(ip netip.Addr) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[ip.Unmap()]
}

// Snapshot returns a copy of the current entries.
func (t *Table) Snapshot() map[netip.Addr]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[netip.Addr]string, len(t.entries))
	for ip, mac := range t.entries {
		out[ip] = mac
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Netlink reads the IPv4 and IPv6 neighbor tables of all links.
func Netlink() (map[netip.Addr]string, error) {
	neighs, err := netlink.NeighList(0, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("netlink neighbor list: %w", err)
	}
	entries := make(map[netip.Addr]string, len(neighs))
	for _, n := range neighs {
		if len(n.HardwareAddr) == 0 || n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE) != 0 {
			continue
		}
		ip, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			continue
		}
		entries[ip.Unmap()] = n.HardwareAddr.String()
	}
	return entries, nil
}

// ProcARP reads the IPv4 ARP table from /proc/net/arp.
func ProcARP() (map[netip.Addr]string, error) {
	f, err := os.Open(procARP)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseARP(f)
}

// ParseARP parses the /proc/net/arp format. Incomplete entries are skipped.
func ParseARP(r io.Reader) (map[netip.Addr]string, error) {
	entries := make(map[netip.Addr]string)
	scanner := bufio.NewScanner(r)
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		// IP address, HW type, Flags, HW address, Mask, Device
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil || flags&0x2 == 0 {
			continue
		}
		hw, err := net.ParseMAC(fields[3])
		if err != nil || isZero(hw) {
			continue
		}
		entries[ip.Unmap()] = hw.String()
	}
	return entries, scanner.Err()
}

func isZero(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0 {
			return false
		}
	}
	return true
}
