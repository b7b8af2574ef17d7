// Package edge implements the Edge Surface (C9): the HTTP control plane
// and the three WebSocket streams that front the Session Manager (C8).
//
// Grounded on the teacher's internal/api package (a Server struct holding
// its collaborators, route table, and auth/request-id middleware chain),
// rehomed from net/http's ServeMux onto github.com/go-chi/chi/v5 — picked
// because the WebSocket endpoints need the same path-parameter and
// middleware-chaining conveniences chi gives the REST routes, and because
// it is the router the rest of the retrieval pack reaches for.
package edge

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agenticode/agenticoded/internal/config"
	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/session"
)

// Server wires the HTTP/WebSocket surface to the session manager and the
// metrics collector.
type Server struct {
	cfg     *config.Config
	mgr     *session.Manager
	metrics *metrics.Collector
	logger  zerolog.Logger
	router  chi.Router
	started time.Time

	promRegistry *prometheus.Registry
}

// NewServer constructs the edge surface and registers its routes.
func NewServer(cfg *config.Config, mgr *session.Manager, mc *metrics.Collector, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		metrics: mc,
		logger:  logger.With().Str("component", "edge").Logger(),
		started: time.Now(),
	}
	s.promRegistry = s.newPrometheusRegistry()
	s.routes()
	return s
}

// newPrometheusRegistry builds a private registry (rather than the global
// default one) so that every Server instance — including the several
// constructed per test — can register its own GaugeFuncs without a
// "duplicate metrics collector registration" panic. Each gauge reads
// straight from the metrics Collector/session Manager at scrape time, so
// there is nothing to update on a schedule.
func (s *Server) newPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	aggregate := func() metrics.Aggregate {
		return s.metrics.Aggregate(s.mgr.Resources())
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agenticoded",
			Name:      "sessions_active",
			Help:      "Number of sessions currently tracked by the session manager.",
		}, func() float64 { return float64(aggregate().SessionCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agenticoded",
			Name:      "cpu_percent_total",
			Help:      "Sum of per-session CPU percent across all live sessions.",
		}, func() float64 { return aggregate().TotalCPUPercent }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agenticoded",
			Name:      "rss_bytes_total",
			Help:      "Sum of per-session resident set size across all live sessions.",
		}, func() float64 { return float64(aggregate().TotalRSSBytes) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agenticoded",
			Name:      "tokens_total",
			Help:      "Sum of input+output tokens recorded across all sessions.",
		}, func() float64 { return float64(aggregate().TotalTokens) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agenticoded",
			Name:      "cost_usd_total",
			Help:      "Sum of estimated token cost in USD across all sessions.",
		}, func() float64 { return aggregate().TotalCostUSD }),
	)
	return reg
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler exposes the same Prometheus registry mounted at /metrics
// on the main router, for callers that additionally want it served on a
// separate listener address (cfg.MetricsAddr) away from the authenticated
// REST/WS surface.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/restart", s.handleRestartSession)
		r.Post("/sessions/{id}/messages", s.handleSendMessage)
		r.Get("/users/{userId}/sessions", s.handleListUserSessions)

		r.Get("/sessions/{id}/metrics", s.handleSessionMetrics)
		r.Get("/sessions/{id}/metrics/enhanced", s.handleSessionMetricsEnhanced)
		r.Get("/sessions/all/metrics/enhanced", s.handleAllMetricsEnhanced)
		r.Get("/metrics/system", s.handleSystemMetrics)
		r.Post("/sessions/{id}/tokens", s.handleRecordTokens)

		r.Post("/sessions/{id}/code-server", s.handleStartCodeServer)
		r.Get("/sessions/{id}/code-server", s.handleGetCodeServer)
		r.Delete("/sessions/{id}/code-server", s.handleStopCodeServer)
		r.Get("/code-servers", s.handleListCodeServers)

		r.Post("/sessions/{id}/sync", s.handleSyncSession)
		r.Get("/workspace/sync/status", s.handleWorkspaceSyncStatus)
	})

	r.Get("/ws/terminal", s.handleWSTerminal)
	r.Get("/ws/events", s.handleWSEvents)
	r.Get("/ws/metrics", s.handleWSMetrics)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, _ := s.mgr.List()
	running := 0
	for _, sess := range sessions {
		if sess.Status == "running" {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.started).Seconds()),
		"activeSessions": running,
	})
}
