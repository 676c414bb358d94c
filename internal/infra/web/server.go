package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pdf2md/internal/usecase"
)

type Server struct {
	jobUC  usecase.JobUseCase
	apiKey string
	log    *zerolog.Logger
}

func NewServer(jobUC usecase.JobUseCase, apiKey string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{jobUC: jobUC, apiKey: apiKey, log: &l}
}

// Router builds the HTTP surface. The job API sits behind bearer auth;
// health and metrics stay open for probes and scrapers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/", jobsCreateHandler(s.jobUC))
		r.Get("/", jobsListHandler(s.jobUC))
		r.Get("/{id}", jobGetHandler(s.jobUC))
		r.Get("/{id}/result", jobResultHandler(s.jobUC))
		r.Post("/{id}/cancel", jobCancelHandler(s.jobUC))
	})

	return r
}

// authMiddleware provides simple Bearer token authentication for the job API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
