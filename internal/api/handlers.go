package api

import (
	"Go2NetNodes/internal/blockflow"
	"Go2NetNodes/internal/engine/manager"
	"Go2NetNodes/internal/model"
	"Go2NetNodes/internal/nodecache"
	"Go2NetNodes/internal/query"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

type adminHandler struct {
	admin Admin
}

type ipRequest struct {
	IP string `json:"ip"`
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *adminHandler) listNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reports(h.admin.Nodes()))
}

func (h *adminHandler) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := h.admin.Node(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manager.NodeReport(n))
}

// addIP adds an address to a node. Node id 0 creates a new node.
func (h *adminHandler) addIP(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req ipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	ip, err := netip.ParseAddr(req.IP)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid ip: %v", err), http.StatusBadRequest)
		return
	}
	n, err := h.admin.AddNodeIP(id, ip)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, manager.NodeReport(n))
}

func (h *adminHandler) setName(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name must not be empty", http.StatusBadRequest)
		return
	}
	if err := h.admin.SetDeviceName(id, req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reports(h.admin.Devices()))
}

func (h *adminHandler) deviceFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.admin.DeviceFlows(mux.Vars(r)["mac"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (h *adminHandler) listBlocks(w http.ResponseWriter, r *http.Request) {
	pairs := h.admin.FlowBlocks()
	if pairs == nil {
		pairs = []blockflow.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (h *adminHandler) block(w http.ResponseWriter, r *http.Request) {
	h.setBlock(w, r, true)
}

func (h *adminHandler) unblock(w http.ResponseWriter, r *http.Request) {
	h.setBlock(w, r, false)
}

func (h *adminHandler) setBlock(w http.ResponseWriter, r *http.Request, blocked bool) {
	a, err := pathID(r, "a")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := pathID(r, "b")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.admin.SetFlowBlock(a, b, blocked); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Stats())
}

type historyHandler struct {
	querier query.Querier
}

// peerTotals serves the traffic history of a node. It accepts the query
// parameters since and until (RFC 3339), peer, blocked and limit.
func (h *historyHandler) peerTotals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := query.PeerRequest{Node: id}
	q := r.URL.Query()

	if req.Since, err = parseTime(q.Get("since")); err != nil {
		http.Error(w, fmt.Sprintf("invalid since: %v", err), http.StatusBadRequest)
		return
	}
	if req.Until, err = parseTime(q.Get("until")); err != nil {
		http.Error(w, fmt.Sprintf("invalid until: %v", err), http.StatusBadRequest)
		return
	}
	if req.Peer, err = parseInt(q.Get("peer")); err != nil {
		http.Error(w, fmt.Sprintf("invalid peer: %v", err), http.StatusBadRequest)
		return
	}
	if req.Limit, err = parseInt(q.Get("limit")); err != nil {
		http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
		return
	}
	if v := q.Get("blocked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid blocked: %v", err), http.StatusBadRequest)
			return
		}
		req.Blocked = &b
	}

	totals, err := h.querier.PeerTotals(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if totals == nil {
		totals = []query.PeerTotal{}
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *historyHandler) topNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("since"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid since: %v", err), http.StatusBadRequest)
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
		return
	}
	totals, err := h.querier.TopNodes(r.Context(), since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if totals == nil {
		totals = []query.NodeTotal{}
	}
	writeJSON(w, http.StatusOK, totals)
}

func reports(nodes []*nodecache.Node) []model.NodeReport {
	out := make([]model.NodeReport, len(nodes))
	for i, n := range nodes {
		out[i] = manager.NodeReport(n)
	}
	return out
}

// pathID parses a node id route variable.
func pathID(r *http.Request, name string) (int, error) {
	v := mux.Vars(r)[name]
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", v, err)
	}
	return id, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err == nil && v < 0 {
		err = fmt.Errorf("negative value %d", v)
	}
	return v, err
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, nodecache.ErrUnknownNode),
		errors.Is(err, blockflow.ErrUnknownNode),
		errors.Is(err, manager.ErrUnknownDevice):
		status = http.StatusNotFound
	case errors.Is(err, nodecache.ErrIPInUse):
		status = http.StatusConflict
	case errors.Is(err, blockflow.ErrSelfPair),
		errors.Is(err, query.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("API request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
