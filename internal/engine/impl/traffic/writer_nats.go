package traffic

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/model"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSWriter publishes every report as one message.
type NATSWriter struct {
	nc       *nats.Conn
	subject  string
	encoding string
}

// NewNATSWriter connects to the NATS server.
func NewNATSWriter(cfg config.NATSWriterConfig) (model.Writer, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("gonodes-report-writer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("connected to NATS server", "url", cfg.URL, "subject", cfg.Subject, "encoding", cfg.Encoding)
	return &NATSWriter{nc: nc, subject: cfg.Subject, encoding: cfg.Encoding}, nil
}

func (w *NATSWriter) Name() string { return "nats" }

// Write publishes r with a unique message id so JetStream consumers can
// deduplicate redeliveries.
func (w *NATSWriter) Write(r *model.TrafficReport) error {
	msg, err := NewReportMsg(w.subject, r, w.encoding)
	if err != nil {
		return err
	}
	return w.nc.PublishMsg(msg)
}

// NewReportMsg builds the NATS message carrying r.
func NewReportMsg(subject string, r *model.TrafficReport, encoding string) (*nats.Msg, error) {
	data, err := EncodeReport(r, encoding)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set("Content-Type", ContentType(encoding))
	msg.Data = data
	return msg, nil
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.nc == nil {
		return nil
	}
	return w.nc.Drain()
}
