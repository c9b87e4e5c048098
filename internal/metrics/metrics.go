package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_sessions_started_total",
			Help: "Total focus sessions started",
		},
		[]string{"tier"},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_sessions_ended_total",
			Help: "Total focus sessions ended",
		},
		[]string{"tier", "reason"},
	)

	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusguard_session_active",
			Help: "Whether a focus session is running (1) or not (0)",
		},
	)

	FocusSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "focusguard_focus_seconds_total",
			Help: "Total focus time recorded in seconds",
		},
	)

	// Break metrics
	BreaksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_breaks_total",
			Help: "Total breaks started",
		},
		[]string{"kind"},
	)

	OverrideRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_override_requests_total",
			Help: "Emergency pass requests by result",
		},
		[]string{"result"},
	)

	// Enforcement metrics
	RestrictionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusguard_restrictions_active",
			Help: "Whether restrictions were last applied (1) or removed (0)",
		},
	)

	EnforcementCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_enforcement_calls_total",
			Help: "Enforcer calls by operation",
		},
		[]string{"op"},
	)

	EnforcementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_enforcement_failures_total",
			Help: "Failed enforcer calls by operation",
		},
		[]string{"op"},
	)

	PersistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_persistence_errors_total",
			Help: "Failed writes to the preference store",
		},
		[]string{"op"},
	)

	// DNS metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_dns_queries_total",
			Help: "Total DNS queries received",
		},
		[]string{"action", "query_type"},
	)

	DNSQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "focusguard_dns_query_duration_seconds",
			Help:    "DNS query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"action"},
	)

	DNSUpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_dns_upstream_errors_total",
			Help: "DNS upstream query errors",
		},
		[]string{"upstream"},
	)

	DNSBlockedSites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "focusguard_dns_blocked_sites",
			Help: "Number of sites currently sinkholed",
		},
	)

	// Scheduled job metrics
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_job_runs_total",
			Help: "Scheduled job executions",
		},
		[]string{"job", "status"},
	)

	BlocklistReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "focusguard_blocklist_reloads_total",
			Help: "Blocklist file reloads",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		SessionActive,
		FocusSeconds,
		BreaksTotal,
		OverrideRequests,
		RestrictionsActive,
		EnforcementCalls,
		EnforcementFailures,
		PersistenceErrors,
		DNSQueriesTotal,
		DNSQueryDuration,
		DNSUpstreamErrors,
		DNSBlockedSites,
		JobRuns,
		BlocklistReloads,
	)
}

// Server serves Prometheus metrics
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
