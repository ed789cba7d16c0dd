// Package pcap reads and writes capture files in the classic pcap format.
package pcap

import (
	"Go2NetNodes/internal/engine/protocol"
	"Go2NetNodes/internal/model"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Reader reads packets from a pcap file.
type Reader struct {
	file   *os.File
	reader *pcapgo.Reader
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return &Reader{file: f, reader: r}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Stats counts what ReadPackets saw.
type Stats struct {
	Packets      int
	Observations int
	ParseErrors  int
}

// ReadPackets parses every packet in the file and hands the resulting
// observations to sink. Packets that cannot be parsed are logged and skipped.
func (r *Reader) ReadPackets(sink model.ObservationSink) (Stats, error) {
	var st Stats
	for {
		data, ci, err := r.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("failed to read packet %d: %w", st.Packets+1, err)
		}
		st.Packets++

		packet := gopacket.NewPacket(data, r.reader.LinkType(), gopacket.Default)
		packet.Metadata().CaptureInfo = ci
		msgs, err := protocol.ParsePacket(packet)
		if err != nil {
			st.ParseErrors++
			slog.Debug("error parsing packet", "packet", st.Packets, "error", err)
		}
		for _, msg := range msgs {
			if msg.Packet != nil {
				err = sink.ObservePacket(msg.Type, msg.Packet)
			} else {
				err = sink.ObserveDNS(msg.Type, msg.DNS)
			}
			if err != nil {
				return st, err
			}
			st.Observations++
		}
	}
}
