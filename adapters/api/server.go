package api

import (
	"net/http"
	"time"

	"tenderwatch/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies; a feature vector is a few hundred bytes.
const maxBodyBytes = 1 << 20

// Server exposes the explanation service over HTTP
type Server struct {
	router   *chi.Mux
	service  *app.ExplanationService
	gatherer prometheus.Gatherer
}

// NewServer creates the HTTP API. gatherer backs /metrics; nil uses the default registry.
func NewServer(service *app.ExplanationService, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   chi.NewRouter(),
		service:  service,
		gatherer: gatherer,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(60 * time.Second))
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/score", s.handleScore)

		r.Route("/tenders/{id}/counterfactuals", func(r chi.Router) {
			r.Post("/", s.handleExplain)
			r.Get("/", s.handleGetCached)
			r.Delete("/", s.handleInvalidate)
			r.Get("/actionable", s.handleActionable)
		})

		r.Get("/counterfactuals/stats", s.handleStats)
	})
}
