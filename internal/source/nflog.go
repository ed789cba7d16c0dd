package source

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/protocol"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/wire"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/florianl/go-nflog/v2"
)

// NFLog listens on the NFLOG groups the firewall copies DNS answers and
// dropped packets to.
type NFLog struct {
	cfg  config.NFLogConfig
	sink model.ObservationSink
}

func NewNFLog(cfg config.NFLogConfig, sink model.ObservationSink) *NFLog {
	return &NFLog{cfg: cfg, sink: sink}
}

// Run registers on the configured groups and blocks until ctx is done.
func (n *NFLog) Run(ctx context.Context) error {
	groups := []struct {
		group  uint16
		handle func([]byte) []wire.Message
	}{
		{n.cfg.Group, DNSMessages},
		{n.cfg.BlockGroup, BlockedMessages},
	}

	var open []*nflog.Nflog
	defer func() {
		for _, nf := range open {
			nf.Close()
		}
	}()
	for _, g := range groups {
		if g.group == 0 {
			continue
		}
		nf, err := nflog.Open(&nflog.Config{Group: g.group, Copymode: nflog.CopyPacket})
		if err != nil {
			return fmt.Errorf("failed to open nflog group %d: %w", g.group, err)
		}
		open = append(open, nf)

		group, handle := g.group, g.handle
		hook := func(attrs nflog.Attribute) int {
			if attrs.Payload == nil {
				return 0
			}
			if err := Deliver(n.sink, handle(*attrs.Payload)); err != nil {
				slog.Warn("failed to deliver nflog observation", "group", group, "error", err)
			}
			return 0
		}
		errFn := func(err error) int {
			if ctx.Err() == nil {
				slog.Warn("nflog receive error", "group", group, "error", err)
			}
			return 0
		}
		if err := nf.RegisterWithErrorFunc(ctx, hook, errFn); err != nil {
			return fmt.Errorf("failed to register on nflog group %d: %w", group, err)
		}
		slog.Info("nflog source listening", "group", group)
	}
	if len(open) == 0 {
		return errors.New("no nflog group configured")
	}
	<-ctx.Done()
	slog.Info("nflog source stopped")
	return nil
}

// DNSMessages returns the DNS answers and queries found in an IP packet.
// Its traffic is left to the conntrack source.
func DNSMessages(payload []byte) []wire.Message {
	msgs, err := protocol.ParseIP(payload)
	if err != nil {
		slog.Debug("skipping nflog packet", "error", err)
		return nil
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.Type.IsDNS() {
			out = append(out, m)
		}
	}
	return out
}

// BlockedMessages returns the traffic observation of a dropped packet.
func BlockedMessages(payload []byte) []wire.Message {
	msgs, err := protocol.ParseIP(payload)
	if err != nil {
		slog.Debug("skipping nflog packet", "error", err)
		return nil
	}
	for _, m := range msgs {
		if m.Packet != nil {
			return []wire.Message{{Type: wire.TypeBlocked, Packet: m.Packet}}
		}
	}
	return nil
}
