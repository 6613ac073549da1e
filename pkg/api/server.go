package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/playerpulse/pkg/httputil"
	"github.com/platinummonkey/playerpulse/pkg/observability"
)

// Server is the read-only query API
type Server struct {
	router   *mux.Router
	handler  http.Handler
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
	health   *observability.HealthChecker
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records HTTP metrics on m and serves registry on /metrics
func WithMetrics(m *observability.Metrics, registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = m
		s.registry = registry
	}
}

// WithHealthChecker serves checker on /healthz and /readyz
func WithHealthChecker(checker *observability.HealthChecker) Option {
	return func(s *Server) {
		s.health = checker
	}
}

// NewServer creates the API server for service
func NewServer(service AnalyticsService, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  observability.NopLogger(),
		metrics: observability.NewUnregisteredMetrics(),
		health:  observability.NewHealthChecker(""),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes(service)

	s.handler = otelhttp.NewHandler(
		httputil.Chain(
			httputil.RequestIDMiddleware,
			httputil.LoggingMiddleware(s.logger),
			httputil.RecoveryMiddleware(s.logger),
		)(s.router),
		"playerpulse.api",
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(service AnalyticsService) {
	s.router.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	if s.registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods(http.MethodGet)
	}

	NewAnalyticsHandlers(service).RegisterRoutes(s.router)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "no such route")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.Use(routeSpanName, observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server serving s on addr
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// routeTemplate labels a matched request by its route template, keeping metric
// cardinality bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func routeSpanName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetName(r.Method + " " + routeTemplate(r))
		next.ServeHTTP(w, r)
	})
}
