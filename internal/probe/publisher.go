package probe

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/wire"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// publishConn is the part of a NATS connection the publisher needs.
type publishConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher encodes observations into wire messages and publishes them to a
// NATS subject. It is an ObservationSink and is safe for concurrent use.
type Publisher struct {
	nc      publishConn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("gonodes-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	slog.Info("connected to NATS", "url", cfg.NATSURL, "subject", cfg.Subject)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

func (p *Publisher) ObservePacket(t wire.MessageType, obs *wire.PacketObservation) error {
	return p.nc.Publish(p.subject, wire.EncodePacket(t, obs))
}

func (p *Publisher) ObserveDNS(t wire.MessageType, obs *wire.DnsObservation) error {
	data, err := wire.EncodeDNS(t, obs)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	slog.Info("NATS connection drained and closed")
	return nil
}
