package main

import (
	"Go2NetNodes/internal/api"
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/engine/manager"
	"Go2NetNodes/internal/engine/streamaggregator"
	"Go2NetNodes/internal/factory"
	"Go2NetNodes/internal/log"
	"Go2NetNodes/internal/names"
	"Go2NetNodes/internal/neighbor"
	"Go2NetNodes/internal/persist"
	"Go2NetNodes/internal/query"
	"Go2NetNodes/internal/source"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "Go2NetNodes/internal/engine/impl/traffic"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("ns-engine failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := log.Configure(cfg.Log.Level); err != nil {
		return err
	}
	slog.Info("configuration loaded", "path", configPath)

	// 2. Collaborators of the manager
	registry := names.NewRegistry(cfg.Names.UserNamesFile, cfg.Names.DHCPLeasesFile, cfg.Names.DHCPConfigFile)
	if err := registry.Load(); err != nil {
		slog.Warn("failed to load device names", "error", err)
	}

	pairStore, nodeStore, closers, err := openStores(cfg.Blockflow)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	writers, err := factory.Create(cfg)
	if err != nil {
		return err
	}

	mgr, err := manager.NewManager(cfg.Engine, manager.Deps{
		Writers:    writers,
		PairStore:  pairStore,
		NodeStore:  nodeStore,
		Names:      registry,
		Neighbors:  neighbor.NewTable(),
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	if err := mgr.Restore(); err != nil {
		return err
	}

	// 3. Start the ingestion paths
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var streamAgg *streamaggregator.StreamAggregator
	if cfg.Probe.NATSURL != "" {
		streamAgg = streamaggregator.NewStreamAggregator(cfg.Probe, mgr)
		if err := streamAgg.Start(); err != nil {
			return err
		}
	} else {
		mgr.Start()
	}

	var sources sync.WaitGroup
	startSources(ctx, &sources, cfg.Sources, mgr)

	// 4. Administrative surfaces
	var querier query.Querier
	if ch, ok := cfg.ClickHouse(); ok {
		if querier, err = query.NewClickHouseQuerier(ch); err != nil {
			slog.Warn("traffic history disabled", "error", err)
			querier = nil
		} else {
			defer querier.Close()
		}
	}
	server := api.NewServer(cfg.API.ListenAddr, api.NewRouter(api.Options{
		Admin:    mgr,
		Querier:  querier,
		Gatherer: prometheus.DefaultGatherer,
	}))
	server.Start()

	health, err := startHealth(cfg.API.GRPCHealthAddr)
	if err != nil {
		return err
	}

	// 5. Wait for a shutdown signal for graceful shutdown
	<-ctx.Done()
	slog.Info("shutdown signal received")

	health.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server forced to shut down", "error", err)
	}

	sources.Wait()
	if streamAgg != nil {
		streamAgg.Stop()
	} else {
		mgr.Stop()
	}
	slog.Info("shutdown complete")
	return nil
}

// openStores opens the blockflow pair store and the persistent node store.
func openStores(cfg config.BlockflowConfig) (blockflow.Store, manager.NodeStore, []io.Closer, error) {
	if cfg.Store == "sqlite" {
		st, err := persist.Open(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, []io.Closer{st}, nil
	}

	nodes, err := persist.Open(cfg.NodeDB)
	if err != nil {
		return nil, nil, nil, err
	}
	return blockflow.NewFileStore(cfg.Path), nodes, []io.Closer{nodes}, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}
}

type runner interface {
	Run(ctx context.Context) error
}

// startSources runs the enabled netfilter sources until ctx is done.
func startSources(ctx context.Context, wg *sync.WaitGroup, cfg config.SourcesConfig, mgr *manager.Manager) {
	runners := make(map[string]runner)
	if cfg.Conntrack.Enabled {
		ct, err := source.NewConntrack(cfg.Conntrack, mgr)
		if err != nil {
			slog.Error("conntrack source disabled", "error", err)
		} else {
			runners["conntrack"] = ct
		}
	}
	if cfg.NFLog.Enabled {
		runners["nflog"] = source.NewNFLog(cfg.NFLog, mgr)
	}

	for name, r := range runners {
		name, r := name, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				slog.Error("source stopped", "source", name, "error", err)
			}
		}()
	}
}
