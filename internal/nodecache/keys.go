package nodecache

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// IPKey returns the index key for an address. IPv4-mapped IPv6 addresses
// index as their IPv4 form.
func IPKey(addr netip.Addr) netip.Addr {
	return addr.Unmap()
}

// DomainKey returns the case-insensitive index key for a domain name. The
// trailing root dot is dropped, so "WWW.Example.com." and "www.example.com"
// share a key.
func DomainKey(domain string) string {
	return strings.TrimSuffix(strings.ToLower(domain), ".")
}

// MACKey canonicalizes a hardware address to lowercase colon form.
func MACKey(mac string) (string, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q: %w", mac, err)
	}
	return hw.String(), nil
}
