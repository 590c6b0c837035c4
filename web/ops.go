package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alienlienn/iot-smartbin/rbc"
	"github.com/alienlienn/iot-smartbin/routing"
)

// OpsRouter serves the gateway's operational endpoints: Prometheus metrics,
// the current routing table and a liveness probe.
func OpsRouter(table *routing.Table, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/api/routes", func(w http.ResponseWriter, _ *http.Request) {
		body, err := rbc.FormatSnapshot(table.Snapshot())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", rbc.ContentTypeJSON)
		_, _ = w.Write(body)
	})
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "nodes": table.Len()})
	})
	return r
}
