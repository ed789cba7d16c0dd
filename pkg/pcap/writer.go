package pcap

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer appends packets to a pcap file.
type Writer struct {
	file   io.WriteCloser
	writer *pcapgo.Writer
}

// Create creates a timestamped capture file in dir.
func Create(dir string, snaplen uint32, linkType layers.LinkType) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	name := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+".pcap")
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, snaplen, linkType)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the file header to f.
func NewWriter(f io.WriteCloser, snaplen uint32, linkType layers.LinkType) (*Writer, error) {
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snaplen, linkType); err != nil {
		return nil, fmt.Errorf("failed to write pcap file header: %w", err)
	}
	return &Writer{file: f, writer: w}, nil
}

func (w *Writer) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	return w.writer.WritePacket(ci, data)
}

func (w *Writer) Close() error {
	return w.file.Close()
}
