package names

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

func readFile(path string, parse func(io.Reader) ([]Host, error)) ([]Host, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	hosts, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return hosts, nil
}

// ParseLeases reads a dnsmasq leases file. Each line holds the expiry time,
// MAC, address, host name and client id; a host name of "*" means none.
func ParseLeases(r io.Reader) ([]Host, error) {
	var hosts []Host
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		h := Host{MAC: fields[1], Name: fields[3]}
		if h.Name == "*" {
			continue
		}
		if ip, err := netip.ParseAddr(fields[2]); err == nil {
			h.IP = ip
		}
		hosts = append(hosts, h)
	}
	return hosts, scanner.Err()
}

// ParseDHCPConfig reads the "config host" sections of an OpenWrt DHCP
// configuration file:
//
//	config host
//		option name 'laptop'
//		option mac '00:11:22:33:44:55'
//		option ip '192.168.1.20'
func ParseDHCPConfig(r io.Reader) ([]Host, error) {
	var hosts []Host
	var cur *Host
	flush := func() {
		if cur != nil && cur.Name != "" {
			hosts = append(hosts, *cur)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "config ") || line == "config" {
			flush()
			if fields := strings.Fields(line); len(fields) >= 2 && fields[1] == "host" {
				cur = &Host{}
			}
			continue
		}
		if cur == nil {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "option" {
			continue
		}
		value := unquote(strings.Join(fields[2:], " "))
		switch fields[1] {
		case "name":
			cur.Name = value
		case "mac":
			cur.MAC = value
		case "ip":
			if ip, err := netip.ParseAddr(value); err == nil {
				cur.IP = ip
			}
		}
	}
	flush()
	return hosts, scanner.Err()
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
