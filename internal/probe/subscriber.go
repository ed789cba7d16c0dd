package probe

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/wire"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// MessageHandler processes a decoded wire message.
type MessageHandler func(msg wire.Message)

// Subscriber decodes wire messages from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string

	// OnError, when set, is called with messages that fail to decode.
	OnError func(msg *nats.Msg, err error)
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("gonodes-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	slog.Info("connected to NATS", "url", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and hands every decoded
// message to handler.
func (s *Subscriber) Start(handler MessageHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		s.dispatch(msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", s.subject, err)
	}
	s.sub = sub
	slog.Info("subscribed, waiting for messages", "subject", s.subject)
	return nil
}

func (s *Subscriber) dispatch(msg *nats.Msg, handler MessageHandler) {
	m, err := wire.Decode(msg.Data)
	if err != nil {
		if s.OnError != nil {
			s.OnError(msg, err)
		} else {
			slog.Debug("dropping undecodable message", "subject", msg.Subject, "error", err)
		}
		return
	}
	handler(m)
}

// ReplyBadVersion answers msg with a bad version message if err says the
// sender speaks another protocol version and msg has a reply subject.
func ReplyBadVersion(msg *nats.Msg, err error) bool {
	if msg.Reply == "" || !errors.Is(err, wire.ErrBadVersion) {
		return false
	}
	if rerr := msg.Respond(wire.EncodeBadVersion()); rerr != nil {
		slog.Warn("failed to reply to peer with unsupported version", "reply", msg.Reply, "error", rerr)
		return false
	}
	return true
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Warn("failed to unsubscribe", "subject", s.subject, "error", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
		slog.Info("NATS connection closed")
	}
}
