package main

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/manager"
	"Go2NetNodes/internal/factory"
	"Go2NetNodes/internal/log"
	"Go2NetNodes/pkg/pcap"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "Go2NetNodes/internal/engine/impl/traffic"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	local := flag.Bool("local", true, "Account traffic between nodes without a known MAC.")
	flag.Parse()

	// 1. Get pcap file path from command-line arguments
	if flag.NArg() < 1 {
		fmt.Println("Usage: pcap-analyzer [-config path] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Log.Level); err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	cfg.Engine.LocalMode = *local

	// 3. Initialize modules
	writers, err := factory.Create(cfg)
	if err != nil {
		slog.Error("failed to create writers", "error", err)
		os.Exit(1)
	}
	mgr, err := manager.NewManager(cfg.Engine, manager.Deps{Writers: writers})
	if err != nil {
		slog.Error("failed to create manager", "error", err)
		os.Exit(1)
	}

	pcapReader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		slog.Error("failed to open pcap file", "path", pcapFilePath, "error", err)
		os.Exit(1)
	}
	defer pcapReader.Close()
	slog.Info("reading packets", "path", pcapFilePath)

	// 4. Start the processing pipeline
	mgr.Start()

	// 5. Feed every packet to the manager
	stats, err := pcapReader.ReadPackets(mgr)
	if err != nil {
		slog.Error("failed to read pcap file", "error", err)
	}
	slog.Info("finished reading pcap file", "packets", stats.Packets, "observations", stats.Observations, "parse_errors", stats.ParseErrors)

	// 6. Graceful shutdown writes the final report
	mgr.Stop()
	st := mgr.Stats()
	slog.Info("analysis complete", "nodes_created", st.Created, "merges", st.Merges, "mac_conflicts", st.MACConflicts)
}
