// Package api serves the administrative HTTP interface of the engine and,
// when a querier is configured, the recorded traffic history.
package api

import (
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/engine/manager"
	"Go2NetNodes/internal/nodecache"
	"Go2NetNodes/internal/query"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admin is the administrative surface of the engine.
type Admin interface {
	Nodes() []*nodecache.Node
	Node(id int) (*nodecache.Node, error)
	Devices() []*nodecache.Node
	DeviceFlows(mac string) ([]manager.DeviceFlow, error)
	AddNodeIP(id int, ip netip.Addr) (*nodecache.Node, error)
	SetFlowBlock(a, b int, blocked bool) error
	FlowBlocks() []blockflow.Pair
	SetDeviceName(id int, name string) error
	Stats() nodecache.Stats
}

// Options selects the routes a router serves. Nil fields leave their
// routes out.
type Options struct {
	Admin    Admin
	Querier  query.Querier
	Gatherer prometheus.Gatherer
}

// NewRouter builds the HTTP routes.
func NewRouter(opts Options) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	if opts.Admin != nil {
		h := &adminHandler{admin: opts.Admin}
		api.HandleFunc("/nodes", h.listNodes).Methods(http.MethodGet)
		api.HandleFunc("/nodes/{id:[0-9]+}", h.getNode).Methods(http.MethodGet)
		api.HandleFunc("/nodes/{id:[0-9]+}/ips", h.addIP).Methods(http.MethodPost)
		api.HandleFunc("/nodes/{id:[0-9]+}/name", h.setName).Methods(http.MethodPut)
		api.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
		api.HandleFunc("/devices/{mac}/flows", h.deviceFlows).Methods(http.MethodGet)
		api.HandleFunc("/blockflows", h.listBlocks).Methods(http.MethodGet)
		api.HandleFunc("/blockflows/{a:[0-9]+}/{b:[0-9]+}", h.block).Methods(http.MethodPut)
		api.HandleFunc("/blockflows/{a:[0-9]+}/{b:[0-9]+}", h.unblock).Methods(http.MethodDelete)
		api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	}
	if opts.Querier != nil {
		h := &historyHandler{querier: opts.Querier}
		api.HandleFunc("/nodes/{id:[0-9]+}/history", h.peerTotals).Methods(http.MethodGet)
		api.HandleFunc("/top", h.topNodes).Methods(http.MethodGet)
	}
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	return r
}

// Server runs the router on a listen address.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("API server starting", "listen", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", "listen", s.srv.Addr, "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.srv.Shutdown(ctx)
}
