package main

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/protocol"
	"Go2NetNodes/internal/log"
	"Go2NetNodes/internal/probe"
	"Go2NetNodes/internal/probe/persistent"
	"Go2NetNodes/internal/source"
	"Go2NetNodes/internal/wire"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/nats-io/nats.go"
)

const recorderBuffer = 4096

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	iface := flag.String("iface", "", "Interface to capture packets from; overrides probe.interface.")
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Log.Level); err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	if *iface != "" {
		cfg.Probe.Interface = *iface
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "pub":
		err = runProbe(ctx, cfg)
	case "sub":
		err = runSubscriber(ctx, cfg.Probe)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error("ns-probe failed", "error", err)
		os.Exit(1)
	}
}

// runProbe captures packets and runs the netfilter sources, publishing
// everything they observe to NATS.
func runProbe(ctx context.Context, cfg *config.Config) error {
	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if cfg.Sources.Conntrack.Enabled {
		ct, err := source.NewConntrack(cfg.Sources.Conntrack, pub)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ct.Run(ctx); err != nil {
				slog.Error("conntrack source stopped", "error", err)
			}
		}()
	}
	if cfg.Sources.NFLog.Enabled {
		nf := source.NewNFLog(cfg.Sources.NFLog, pub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := nf.Run(ctx); err != nil {
				slog.Error("nflog source stopped", "error", err)
			}
		}()
	}

	if cfg.Probe.Interface != "" {
		err = capture(ctx, cfg.Probe, pub)
		cancel()
	} else {
		<-ctx.Done()
	}
	slog.Info("probe stopping, waiting for sources")
	wg.Wait()
	return err
}

// capture reads packets from the configured interface until ctx is done.
func capture(ctx context.Context, cfg config.ProbeConfig, pub *probe.Publisher) error {
	handle, err := pcap.OpenLive(cfg.Interface, cfg.SnapshotLen, cfg.Promiscuous, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", cfg.Interface, err)
	}
	defer handle.Close()
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			return fmt.Errorf("invalid BPF filter %q: %w", cfg.BPFFilter, err)
		}
	}

	var recorder *persistent.Worker
	if cfg.RecordDir != "" {
		recorder, err = persistent.NewWorker(cfg.RecordDir, uint32(cfg.SnapshotLen), handle.LinkType(), recorderBuffer)
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Stop(); err != nil {
				slog.Error("failed to close capture file", "error", err)
			}
			slog.Info("recorder stopped", "dropped", recorder.Dropped())
		}()
	}
	slog.Info("capture started, publishing to NATS", "interface", cfg.Interface, "subject", cfg.Subject)

	packets := gopacket.NewPacketSource(handle, handle.LinkType()).Packets()
	published := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("capture stopped", "published", published)
			return nil
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			if recorder != nil {
				recorder.Enqueue(persistent.Frame{Info: packet.Metadata().CaptureInfo, Data: packet.Data()})
			}
			msgs, err := protocol.ParsePacket(packet)
			if err != nil && len(msgs) == 0 {
				continue // Skip non-IP packets
			}
			if err := source.Deliver(pub, msgs); err != nil {
				slog.Warn("failed to publish observation", "error", err)
				continue
			}
			published++
			if published%1000 == 0 {
				slog.Debug("packets published", "count", published)
			}
		}
	}
}

// runSubscriber prints the messages published on the probe subject.
func runSubscriber(ctx context.Context, cfg config.ProbeConfig) error {
	sub, err := probe.NewSubscriber(cfg)
	if err != nil {
		return err
	}
	defer sub.Close()
	sub.OnError = func(_ *nats.Msg, err error) {
		slog.Warn("undecodable message", "error", err)
	}

	handler := func(msg wire.Message) {
		switch {
		case msg.Packet != nil:
			slog.Info("received", "type", msg.Type, "observation", msg.Packet.String())
		case msg.DNS != nil:
			slog.Info("received", "type", msg.Type, "observation", msg.DNS.String())
		}
	}
	if err := sub.Start(handler); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("shutdown signal received, cleaning up")
	return nil
}
