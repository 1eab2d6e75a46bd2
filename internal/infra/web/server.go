package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"app-build-queue/internal/domain/ports/repository"
	"app-build-queue/internal/infra/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the ops surface: health, Prometheus metrics and a read-only
// queue snapshot. Job submission and status APIs live outside this core.
type Server struct {
	queue  repository.BuildQueue
	apiKey string
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(queue repository.BuildQueue, port int, apiKey string, logger *zerolog.Logger) *Server {
	s := &Server{queue: queue, apiKey: apiKey, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/queue", s.authMiddleware(http.HandlerFunc(s.handleQueue)))

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Chain(mux, TraceID(), RequestLog(logger), Recover(logger)),
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("ops server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	depth, err := s.queue.Len(ctx)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("queue snapshot failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"depth": depth})
}

// authMiddleware provides simple Bearer token authentication for the ops API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("ops API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
