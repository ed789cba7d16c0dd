package streamaggregator

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/manager"
	"Go2NetNodes/internal/wire"
	"net/netip"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesReachManager(t *testing.T) {
	mgr, err := manager.NewManager(config.EngineConfig{
		FlushInterval:       "1h",
		SizeOfPacketChannel: 4,
		LocalMode:           true,
	}, manager.Deps{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	sa := NewStreamAggregator(config.ProbeConfig{}, mgr)

	mgr.Start()
	pkt := wire.NewPacketObservation(6, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 1000, 80, 2, 300)
	sa.handleMessage(wire.Message{Type: wire.TypeTrafficData, Packet: &pkt})
	sa.decodeFailed(&nats.Msg{Data: []byte{0x09}}, wire.ErrBadVersion)
	sa.Stop()

	nodes := mgr.Nodes()
	require.Len(t, nodes, 2)
	assert.True(t, nodes[0].HasIP(netip.MustParseAddr("10.0.0.1")))
}
