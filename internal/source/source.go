// Package source reads traffic from the local netfilter subsystem: byte and
// packet counters from connection tracking, DNS answers and dropped packets
// from NFLOG groups.
package source

import (
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/wire"
)

// Deliver hands decoded messages to sink, stopping at the first error.
func Deliver(sink model.ObservationSink, msgs []wire.Message) error {
	for _, m := range msgs {
		var err error
		switch {
		case m.Packet != nil:
			err = sink.ObservePacket(m.Type, m.Packet)
		case m.DNS != nil:
			err = sink.ObserveDNS(m.Type, m.DNS)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
