package main

import (
	"Go2NetNodes/internal/api"
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/log"
	"Go2NetNodes/internal/query"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Log.Level); err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}

	// Find the first enabled ClickHouse writer config
	chCfg, ok := cfg.ClickHouse()
	if !ok {
		slog.Error("no enabled ClickHouse writer found in config, API server cannot start")
		os.Exit(1)
	}

	// Initialize querier with the found config
	querier, err := query.NewClickHouseQuerier(chCfg)
	if err != nil {
		slog.Error("failed to create querier", "error", err)
		os.Exit(1)
	}
	defer querier.Close()

	server := api.NewServer(cfg.API.ListenAddr, api.NewRouter(api.Options{Querier: querier}))
	server.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("API server exited")
}
