package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DashboardPath = "/websocket/dashboard"
	maxBodyBytes  = 1 << 20
)

// Server is the HTTP face of the hub.
type Server struct {
	Hub     *Hub
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer wraps hub. metricsHandler may be nil.
func NewServer(hub *Hub, metricsHandler http.Handler, logger *zap.Logger) *Server {
	return &Server{Hub: hub, metrics: metricsHandler, logger: logger.Named("web")}
}

// Router returns the hub routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.HandleFunc(DashboardPath, s.handleDashboard)
	r.Get("/ws", s.Hub.ServeWs)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Serve runs the hub and listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	go s.Hub.Run(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serving dashboard hub on %s", addr)
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Only POST requests allowed"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(body, &snapshot); err != nil || snapshot == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON format"})
		return
	}
	s.Hub.Broadcast(body)
	s.logger.Debug("Snapshot received", zap.Int("nodes", len(snapshot)))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Data received"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
