package model

import "Go2NetNodes/internal/wire"

// ObservationSink receives observations from a traffic source. Sources call
// it from a single goroutine each; implementations that are shared between
// sources must be safe for concurrent use.
type ObservationSink interface {
	ObservePacket(t wire.MessageType, obs *wire.PacketObservation) error
	ObserveDNS(t wire.MessageType, obs *wire.DnsObservation) error
}

// SinkFunc adapts a function that handles full messages to an ObservationSink.
type SinkFunc func(msg wire.Message) error

func (f SinkFunc) ObservePacket(t wire.MessageType, obs *wire.PacketObservation) error {
	return f(wire.Message{Type: t, Packet: obs})
}

func (f SinkFunc) ObserveDNS(t wire.MessageType, obs *wire.DnsObservation) error {
	return f(wire.Message{Type: t, DNS: obs})
}
