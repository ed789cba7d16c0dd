package neighbor

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arpTable = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         00:11:22:33:44:55     *        br-lan
192.168.1.20     0x1         0x0         00:00:00:00:00:00     *        br-lan
192.168.1.21     0x1         0x2         AA:BB:CC:DD:EE:FF     *        br-lan
`

func TestParseARP(t *testing.T) {
	entries, err := ParseARP(strings.NewReader(arpTable))
	require.NoError(t, err)
	assert.Equal(t, map[netip.Addr]string{
		netip.MustParseAddr("192.168.1.1"):  "00:11:22:33:44:55",
		netip.MustParseAddr("192.168.1.21"): "aa:bb:cc:dd:ee:ff",
	}, entries)
}

func TestTableFallsBack(t *testing.T) {
	failing := func() (map[netip.Addr]string, error) {
		return nil, errors.New("netlink unavailable")
	}
	static := func() (map[netip.Addr]string, error) {
		return map[netip.Addr]string{netip.MustParseAddr("10.0.0.1"): "00:11:22:33:44:55"}, nil
	}
	table := NewTableWithSources(failing, static)

	snap, err := table.Refresh()
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Equal(t, "00:11:22:33:44:55", table.LookupMAC(netip.MustParseAddr("::ffff:10.0.0.1")))
	assert.Equal(t, "", table.LookupMAC(netip.MustParseAddr("10.0.0.2")))

	// Refresh fails when no source works.
	broken := NewTableWithSources(failing)
	_, err = broken.Refresh()
	assert.Error(t, err)
	assert.Equal(t, 0, broken.Len())
}
