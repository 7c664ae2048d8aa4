// Package httpstatus is the CLI harness's optional status/metrics server
// (SPEC_FULL.md §6.4), grounded on the gorilla/mux + gorilla/handlers
// wiring used by the ledger and aggregator services: a mux.Router with
// one handler per route, wrapped in handlers.LoggingHandler, serving
// /status and /groups/{id} as JSON plus /metrics via promhttp.
package httpstatus

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ipicoli/ztl-go"
)

// Server is the status/metrics HTTP surface for a running instance.
type Server struct {
	inst *ztl.ZTL
	http *http.Server
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	NumGroups int                 `json:"num_groups"`
	Metrics   ztl.MetricsSnapshot `json:"metrics"`
}

// groupResponse is the body of GET /groups/{id}.
type groupResponse struct {
	Group     int `json:"group"`
	ZoneCount int `json:"zone_count"`
}

// New builds a status server bound to addr, serving gatherer's collected
// metrics at /metrics (the same prometheus.Registry passed as the
// instance's Options.Registerer, so /metrics reflects the telemetry
// reporter's gauges rather than the global default registry).
func New(addr string, inst *ztl.ZTL, gatherer prometheus.Gatherer) *Server {
	s := &Server{inst: inst}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.getStatus).Methods("GET")
	r.HandleFunc("/groups/{id}", s.getGroup).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	logged := handlers.LoggingHandler(os.Stdout, r)
	s.http = &http.Server{Addr: addr, Handler: logged}
	return s
}

// ListenAndServe blocks serving the status surface until the server is
// shut down or a fatal error occurs.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		NumGroups: s.inst.NumGroups(),
		Metrics:   s.inst.Metrics().Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid group id"))
		return
	}
	zones, err := s.inst.GroupZoneCount(id)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(groupResponse{Group: id, ZoneCount: zones})
}
