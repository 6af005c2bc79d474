package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kafkaops/agent/internal/config"
	"github.com/kafkaops/agent/internal/ratelimitmw"
	"github.com/kafkaops/agent/internal/version"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	BrokerAPI chi.Router // /v2 (service-marketplace) sub-router
	TopicAPI  chi.Router // /api/v1 (topic management) sub-router
	Logger    *slog.Logger
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server with global middleware, health/metrics
// endpoints, and the two C9 adapter sub-routers. Domain handlers are
// mounted on BrokerAPI/TopicAPI by the caller.
func NewServer(cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry, limiter *ratelimitmw.Middleware) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(UserID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.APIServer.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if limiter != nil {
		s.Router.Use(limiter.Handler)
	}

	s.Router.Get("/health", s.handleHealth)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/v2", func(r chi.Router) {
		s.BrokerAPI = r
	})
	s.Router.Route("/api/v1", func(r chi.Router) {
		s.TopicAPI = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// healthResponse is the JSON shape spec §6 gives for both health endpoints.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Service: "kafka-ops-agent",
		Version: version.Version,
	})
}
