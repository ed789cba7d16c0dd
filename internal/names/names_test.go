package names

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leases = `1700000000 00:11:22:33:44:55 192.168.1.20 laptop 01:00:11:22:33:44:55
1700000100 66:77:88:99:aa:bb 192.168.1.21 * *
1700000200 de:ad:be:ef:00:01 192.168.1.22 printer *
`

const dhcpConfig = `config dnsmasq
	option domainneeded '1'

config host
	option name 'tv'
	option mac 'AA:BB:CC:DD:EE:FF'
	option ip '192.168.1.30'

config host
	option mac '11:11:11:11:11:11'

config host
	option name "nas"
	option ip '192.168.1.31'
`

func TestParseLeases(t *testing.T) {
	hosts, err := ParseLeases(strings.NewReader(leases))
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, Host{MAC: "00:11:22:33:44:55", IP: netip.MustParseAddr("192.168.1.20"), Name: "laptop"}, hosts[0])
	assert.Equal(t, "printer", hosts[1].Name)
}

func TestParseDHCPConfig(t *testing.T) {
	hosts, err := ParseDHCPConfig(strings.NewReader(dhcpConfig))
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, Host{MAC: "AA:BB:CC:DD:EE:FF", IP: netip.MustParseAddr("192.168.1.30"), Name: "tv"}, hosts[0])
	assert.Equal(t, Host{IP: netip.MustParseAddr("192.168.1.31"), Name: "nas"}, hosts[1])
}

func TestRegistryLookupOrder(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "names.yaml")
	leasesFile := filepath.Join(dir, "dhcp.leases")
	dhcpFile := filepath.Join(dir, "dhcp")
	require.NoError(t, os.WriteFile(leasesFile, []byte(leases), 0644))
	require.NoError(t, os.WriteFile(dhcpFile, []byte(dhcpConfig), 0644))
	require.NoError(t, os.WriteFile(userFile, []byte("by_mac:\n  00-11-22-33-44-55: work laptop\nby_ip:\n  192.168.1.31: storage\n"), 0644))

	r := NewRegistry(userFile, leasesFile, dhcpFile)
	require.NoError(t, r.Load())

	laptop := netip.MustParseAddr("192.168.1.20")
	assert.Equal(t, "work laptop", r.LookupName("00:11:22:33:44:55", laptop))
	assert.Equal(t, "laptop", r.LookupName("", laptop))
	assert.Equal(t, "tv", r.LookupName("aa:bb:cc:dd:ee:ff", netip.Addr{}))
	assert.Equal(t, "storage", r.LookupName("", netip.MustParseAddr("192.168.1.31")))
	assert.Equal(t, "", r.LookupName("", netip.MustParseAddr("10.0.0.1")))
}

func TestRegistrySetName(t *testing.T) {
	userFile := filepath.Join(t.TempDir(), "spin", "names.yaml")
	r := NewRegistry(userFile, "", "")
	require.NoError(t, r.Load())

	require.NoError(t, r.SetName("00:11:22:33:44:55", nil, "phone"))
	ips := []netip.Addr{netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("2001:db8::5")}
	require.NoError(t, r.SetName("", ips, "server"))
	assert.Error(t, r.SetName("", nil, "nothing"))
	assert.Error(t, r.SetName("not-a-mac", nil, "broken"))

	reloaded := NewRegistry(userFile, "", "")
	require.NoError(t, reloaded.Load())
	macs, addrs := reloaded.UserNameCount()
	assert.Equal(t, 1, macs)
	assert.Equal(t, 2, addrs)
	assert.Equal(t, "phone", reloaded.LookupName("00:11:22:33:44:55", netip.Addr{}))
	assert.Equal(t, "server", reloaded.LookupName("", netip.MustParseAddr("2001:db8::5")))
}
