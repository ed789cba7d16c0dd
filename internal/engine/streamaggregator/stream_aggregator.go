package streamaggregator

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/manager"
	"Go2NetNodes/internal/probe"
	"Go2NetNodes/internal/wire"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// StreamAggregator consumes wire messages from NATS and feeds them to a
// manager.
type StreamAggregator struct {
	sub     *probe.Subscriber
	manager *manager.Manager
	cfg     config.ProbeConfig
}

// NewStreamAggregator creates a stream aggregator for mgr. The manager is
// started and stopped by the aggregator.
func NewStreamAggregator(cfg config.ProbeConfig, mgr *manager.Manager) *StreamAggregator {
	return &StreamAggregator{manager: mgr, cfg: cfg}
}

// Start connects to NATS, starts the underlying manager, and begins processing messages.
func (sa *StreamAggregator) Start() error {
	slog.Info("stream aggregator starting", "url", sa.cfg.NATSURL, "subject", sa.cfg.Subject)
	sub, err := probe.NewSubscriber(sa.cfg)
	if err != nil {
		return err
	}
	sub.OnError = sa.decodeFailed

	sa.manager.Start()
	if err := sub.Start(sa.handleMessage); err != nil {
		sub.Close()
		sa.manager.Stop()
		return err
	}
	sa.sub = sub
	return nil
}

// Stop unsubscribes, then stops the manager, which drains its input and
// publishes a final report.
func (sa *StreamAggregator) Stop() {
	slog.Info("stream aggregator stopping")
	if sa.sub != nil {
		sa.sub.Close()
	}
	sa.manager.Stop()
	slog.Info("stream aggregator stopped")
}

func (sa *StreamAggregator) handleMessage(msg wire.Message) {
	sa.manager.Input() <- msg
}

func (sa *StreamAggregator) decodeFailed(msg *nats.Msg, err error) {
	sa.manager.DecodeFailed(err)
	probe.ReplyBadVersion(msg, err)
}
