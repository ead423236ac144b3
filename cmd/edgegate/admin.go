package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tyrauber/sst-maps/internal/metrics"
)

// ActiveRequester reports in-flight edge requests.
type ActiveRequester interface {
	ActiveRequests() int64
}

// AdminServerDeps holds dependencies for the admin server.
type AdminServerDeps struct {
	Collector *metrics.Collector
	Exporter  *metrics.PrometheusExporter
	Edge      ActiveRequester
	Logger    *slog.Logger
}

// newAdminMux builds the admin routes.
//
//	GET /stats    metrics snapshot as JSON
//	GET /metrics  Prometheus text format
//	GET /health   liveness of the edge itself
func newAdminMux(deps AdminServerDeps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		type stats struct {
			metrics.Snapshot
			ActiveRequests int64 `json:"active_requests"`
		}
		out := stats{Snapshot: deps.Collector.Snapshot()}
		if deps.Edge != nil {
			out.ActiveRequests = deps.Edge.ActiveRequests()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			deps.Logger.Error("failed to encode stats", "error", err)
		}
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if deps.Exporter != nil {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
			if err := deps.Exporter.Export(w); err != nil {
				deps.Logger.Error("failed to export metrics", "error", err)
				http.Error(w, "failed to export metrics", http.StatusInternalServerError)
			}
		})
	}

	return mux
}

// startAdminServer starts the admin HTTP server for metrics and stats.
func startAdminServer(addr string, deps AdminServerDeps) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: newAdminMux(deps),
	}

	go func() {
		deps.Logger.Info("admin server started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("admin server error", "error", err)
		}
	}()

	return server
}
