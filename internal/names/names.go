// Package names looks up display names for devices. Names set by the user
// take precedence over names learned from the DHCP server.
package names

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// UserNames is the on-disk format of the user names file.
type UserNames struct {
	ByMAC map[string]string `yaml:"by_mac,omitempty"`
	ByIP  map[string]string `yaml:"by_ip,omitempty"`
}

// Registry answers name lookups from the user names file and the DHCP data.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	userFile  string
	userByMAC map[string]string
	userByIP  map[netip.Addr]string

	leasesFile string
	dhcpFile   string
	dhcpByMAC  map[string]string
	dhcpByIP   map[netip.Addr]string
}

// NewRegistry returns an empty registry backed by the given files. Any of
// them may be empty.
func NewRegistry(userFile, leasesFile, dhcpFile string) *Registry {
	return &Registry{
		userFile:   userFile,
		userByMAC:  make(map[string]string),
		userByIP:   make(map[netip.Addr]string),
		leasesFile: leasesFile,
		dhcpFile:   dhcpFile,
		dhcpByMAC:  make(map[string]string),
		dhcpByIP:   make(map[netip.Addr]string),
	}
}

// Load reads all configured files. Missing files are not an error.
func (r *Registry) Load() error {
	if err := r.loadUserNames(); err != nil {
		return err
	}
	return r.ReloadDHCP()
}

func (r *Registry) loadUserNames() error {
	if r.userFile == "" {
		return nil
	}
	data, err := os.ReadFile(r.userFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read user names file: %w", err)
	}
	var un UserNames
	if err := yaml.Unmarshal(data, &un); err != nil {
		return fmt.Errorf("failed to parse user names file %s: %w", r.userFile, err)
	}

	byMAC := make(map[string]string, len(un.ByMAC))
	for mac, name := range un.ByMAC {
		key, err := normalizeMAC(mac)
		if err != nil {
			slog.Warn("skipping user name with invalid MAC", "mac", mac, "error", err)
			continue
		}
		byMAC[key] = name
	}
	byIP := make(map[netip.Addr]string, len(un.ByIP))
	for raw, name := range un.ByIP {
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			slog.Warn("skipping user name with invalid address", "ip", raw, "error", err)
			continue
		}
		byIP[ip.Unmap()] = name
	}

	r.mu.Lock()
	r.userByMAC, r.userByIP = byMAC, byIP
	r.mu.Unlock()
	slog.Info("loaded user names", "file", r.userFile, "macs", len(byMAC), "ips", len(byIP))
	return nil
}

// ReloadDHCP rereads the DHCP leases and host configuration.
func (r *Registry) ReloadDHCP() error {
	byMAC := make(map[string]string)
	byIP := make(map[netip.Addr]string)

	if r.dhcpFile != "" {
		hosts, err := readFile(r.dhcpFile, ParseDHCPConfig)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			h.addTo(byMAC, byIP)
		}
	}
	// Leases are more recent than static host entries.
	if r.leasesFile != "" {
		leases, err := readFile(r.leasesFile, ParseLeases)
		if err != nil {
			return err
		}
		for _, h := range leases {
			h.addTo(byMAC, byIP)
		}
	}

	r.mu.Lock()
	r.dhcpByMAC, r.dhcpByIP = byMAC, byIP
	r.mu.Unlock()
	return nil
}

// LookupName returns the name for a device with the given MAC and address,
// or "" if none is known. mac may be empty.
func (r *Registry) LookupName(mac string, ip netip.Addr) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, _ := normalizeMAC(mac)
	ip = ip.Unmap()
	if name := r.userByMAC[key]; key != "" && name != "" {
		return name
	}
	if name := r.userByIP[ip]; name != "" {
		return name
	}
	if name := r.dhcpByMAC[key]; key != "" && name != "" {
		return name
	}
	return r.dhcpByIP[ip]
}

// SetName stores a user name for a device. With a MAC the name is stored by
// MAC, otherwise by every address in ips. The user names file is rewritten.
func (r *Registry) SetName(mac string, ips []netip.Addr, name string) error {
	r.mu.Lock()
	if mac != "" {
		key, err := normalizeMAC(mac)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.userByMAC[key] = name
	} else {
		if len(ips) == 0 {
			r.mu.Unlock()
			return errors.New("device has neither MAC nor address")
		}
		for _, ip := range ips {
			r.userByIP[ip.Unmap()] = name
		}
	}
	un := r.snapshotLocked()
	r.mu.Unlock()

	return r.save(un)
}

func (r *Registry) snapshotLocked() UserNames {
	un := UserNames{
		ByMAC: make(map[string]string, len(r.userByMAC)),
		ByIP:  make(map[string]string, len(r.userByIP)),
	}
	for mac, name := range r.userByMAC {
		un.ByMAC[mac] = name
	}
	for ip, name := range r.userByIP {
		un.ByIP[ip.String()] = name
	}
	return un
}

func (r *Registry) save(un UserNames) error {
	if r.userFile == "" {
		return nil
	}
	data, err := yaml.Marshal(un)
	if err != nil {
		return fmt.Errorf("failed to encode user names: %w", err)
	}
	dir := filepath.Dir(r.userFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create user names directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".names-*")
	if err != nil {
		return fmt.Errorf("failed to create user names file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write user names file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write user names file: %w", err)
	}
	return os.Rename(tmp.Name(), r.userFile)
}

// UserNameCount returns the number of user names by MAC and by address.
func (r *Registry) UserNameCount() (macs, ips int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userByMAC), len(r.userByIP)
}

// Host is a name learned from the DHCP server.
type Host struct {
	MAC  string
	IP   netip.Addr
	Name string
}

func (h Host) addTo(byMAC map[string]string, byIP map[netip.Addr]string) {
	if h.Name == "" {
		return
	}
	if key, err := normalizeMAC(h.MAC); err == nil {
		byMAC[key] = h.Name
	}
	if h.IP.IsValid() {
		byIP[h.IP.Unmap()] = h.Name
	}
}

func normalizeMAC(mac string) (string, error) {
	if mac == "" {
		return "", nil
	}
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", err
	}
	return hw.String(), nil
}
