package source

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/wire"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ti-mo/conntrack"
)

// Conntrack periodically dumps the connection tracking table and reports the
// traffic each connection carried since the previous dump.
type Conntrack struct {
	interval time.Duration
	sink     model.ObservationSink
}

func NewConntrack(cfg config.ConntrackConfig, sink model.ObservationSink) (*Conntrack, error) {
	interval, err := config.ParseDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("conntrack interval: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("conntrack interval must be positive, got %q", cfg.Interval)
	}
	return &Conntrack{interval: interval, sink: sink}, nil
}

// Run polls until ctx is done. Counters are zeroed on every dump, which
// needs net.netfilter.nf_conntrack_acct enabled to be meaningful.
func (c *Conntrack) Run(ctx context.Context) error {
	conn, err := conntrack.Dial(nil)
	if err != nil {
		return fmt.Errorf("failed to open conntrack: %w", err)
	}
	defer conn.Close()
	slog.Info("conntrack source started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("conntrack source stopped")
			return nil
		case <-ticker.C:
			flows, err := conn.Dump(&conntrack.DumpOptions{ZeroCounters: true})
			if err != nil {
				slog.Warn("failed to dump conntrack table", "error", err)
				continue
			}
			obs := Observations(flows)
			for i := range obs {
				if err := c.sink.ObservePacket(wire.TypeTrafficData, &obs[i]); err != nil {
					return err
				}
			}
			slog.Debug("conntrack dump", "flows", len(flows), "observations", len(obs))
		}
	}
}

// Observations converts conntrack entries into traffic observations in the
// original direction of each connection. Both directions' counters are
// summed. Entries without traffic and loopback connections are skipped.
func Observations(flows []conntrack.Flow) []wire.PacketObservation {
	out := make([]wire.PacketObservation, 0, len(flows))
	for _, f := range flows {
		t := f.TupleOrig
		src, dst := t.IP.SourceAddress, t.IP.DestinationAddress
		if !src.IsValid() || !dst.IsValid() || src.IsLoopback() || dst.IsLoopback() {
			continue
		}
		packets := f.CountersOrig.Packets + f.CountersReply.Packets
		bytes := f.CountersOrig.Bytes + f.CountersReply.Bytes
		if packets == 0 && bytes == 0 {
			continue
		}
		out = append(out, wire.NewPacketObservation(t.Proto.Protocol, src, dst, t.Proto.SourcePort, t.Proto.DestinationPort, packets, bytes))
	}
	return out
}
