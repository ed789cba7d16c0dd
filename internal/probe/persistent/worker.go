// Package persistent records captured frames to pcap files in the background
// so they can be replayed later with pcap-analyzer.
package persistent

import (
	"Go2NetNodes/pkg/pcap"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const defaultBufferSize = 10000

// Frame is one captured frame.
type Frame struct {
	Info gopacket.CaptureInfo
	Data []byte
}

// PacketWriter is where recorded frames end up.
type PacketWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
	Close() error
}

// Worker writes frames from a buffered channel to a PacketWriter.
type Worker struct {
	frames  chan Frame
	writer  PacketWriter
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewWorker creates a capture file in dir and starts the worker.
func NewWorker(dir string, snaplen uint32, linkType layers.LinkType, bufferSize int) (*Worker, error) {
	w, err := pcap.Create(dir, snaplen, linkType)
	if err != nil {
		return nil, err
	}
	slog.Info("recording captured frames", "dir", dir)
	return NewWorkerWithWriter(w, bufferSize), nil
}

// NewWorkerWithWriter starts a worker around an open writer.
func NewWorkerWithWriter(pw PacketWriter, bufferSize int) *Worker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	w := &Worker{
		frames: make(chan Frame, bufferSize),
		writer: pw,
	}
	// A single goroutine keeps the frames in capture order.
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for f := range w.frames {
		if err := w.writer.WritePacket(f.Info, f.Data); err != nil {
			slog.Warn("error writing captured frame", "error", err)
		}
	}
}

// Enqueue queues a frame. The frame is dropped when the buffer is full.
func (w *Worker) Enqueue(f Frame) bool {
	select {
	case w.frames <- f:
		return true
	default:
		if w.dropped.Add(1)%1000 == 1 {
			slog.Warn("capture recorder buffer full, dropping frames", "dropped", w.dropped.Load())
		}
		return false
	}
}

// Dropped returns the number of frames dropped so far.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Stop writes the queued frames and closes the writer.
func (w *Worker) Stop() error {
	close(w.frames)
	w.wg.Wait()
	err := w.writer.Close()
	slog.Info("capture recorder stopped", "dropped", w.dropped.Load())
	return err
}
