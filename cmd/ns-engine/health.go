package main

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService serves the standard gRPC health protocol.
type healthService struct {
	srv    *grpc.Server
	health *health.Server
}

// startHealth listens on addr. An empty addr disables the service.
func startHealth(addr string) (*healthService, error) {
	if addr == "" {
		return &healthService{}, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	hs := &healthService{srv: grpc.NewServer(), health: health.NewServer()}
	healthpb.RegisterHealthServer(hs.srv, hs.health)
	hs.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		slog.Info("gRPC health service listening", "addr", addr)
		if err := hs.srv.Serve(lis); err != nil {
			slog.Error("gRPC health service failed", "error", err)
		}
	}()
	return hs, nil
}

func (hs *healthService) Stop() {
	if hs.srv == nil {
		return
	}
	hs.health.Shutdown()
	hs.srv.GracefulStop()
}
