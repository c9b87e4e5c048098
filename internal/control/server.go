// Package control serves the local HTTP API used by the CLI.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/focusguard/internal/coordinator"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/storage"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 366
)

// Service is the subset of the coordinator the API exposes.
type Service interface {
	StartSession(ctx context.Context, tier focus.Tier) (focus.Session, error)
	StopSession(ctx context.Context) error
	StartBreak(ctx context.Context, d time.Duration) (focus.Break, error)
	EndBreakEarly(ctx context.Context) error
	BreakDuration(arg string) (time.Duration, error)
	BreakPresets() []coordinator.Preset
	RequestEmergencyPass(ctx context.Context) (focus.PassResult, error)
	RefreshRestrictions(ctx context.Context) error
	Status(ctx context.Context) (focus.Status, error)
	Summary(days int) coordinator.Summary
	Selection(ctx context.Context) (storage.Selection, error)
	UpdateSelection(ctx context.Context, sel storage.Selection) (storage.Selection, error)
}

// Server represents the control HTTP server.
type Server struct {
	svc      Service
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new control server.
func NewServer(addr string, svc Service, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		svc:    svc,
		router: router,
		logger: logger.With().Str("component", "control").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/session", s.handleStartSession).Methods("POST")
	v1.HandleFunc("/session", s.handleStopSession).Methods("DELETE")
	v1.HandleFunc("/break", s.handleStartBreak).Methods("POST")
	v1.HandleFunc("/break", s.handleEndBreak).Methods("DELETE")
	v1.HandleFunc("/break/presets", s.handlePresets).Methods("GET")
	v1.HandleFunc("/emergency", s.handleEmergency).Methods("POST")
	v1.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/stats", s.handleStats).Methods("GET")
	v1.HandleFunc("/selection", s.handleGetSelection).Methods("GET")
	v1.HandleFunc("/selection", s.handlePutSelection).Methods("PUT")
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the control server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting control server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated control listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the control server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping control server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tier, err := focus.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.svc.StartSession(r.Context(), tier)
	if err != nil {
		s.fail(w, err, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StopSession(r.Context()); err != nil {
		s.fail(w, err, "Failed to stop session")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "Session stopped"})
}

func (s *Server) handleStartBreak(w http.ResponseWriter, r *http.Request) {
	var req StartBreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := s.svc.BreakDuration(req.Duration)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	brk, err := s.svc.StartBreak(r.Context(), d)
	if err != nil {
		s.fail(w, err, "Failed to start break")
		return
	}

	writeJSON(w, http.StatusCreated, brk)
}

func (s *Server) handleEndBreak(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.EndBreakEarly(r.Context()); err != nil {
		s.fail(w, err, "Failed to end break")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "Break ended"})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PresetsResponse{Presets: s.svc.BreakPresets()})
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.RequestEmergencyPass(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to request emergency pass")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RefreshRestrictions(r.Context()); err != nil {
		s.fail(w, err, "Failed to refresh restrictions")
		return
	}
	writeJSON(w, http.StatusAccepted, SuccessResponse{Message: "Refresh queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsDays {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, s.svc.Summary(days))
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := s.svc.Selection(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to read selection")
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sel, err := s.svc.UpdateSelection(r.Context(), storage.Selection{Apps: req.Apps, Sites: req.Sites})
	if err != nil {
		s.fail(w, err, "Failed to update selection")
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// fail writes err with its mapped status. Server errors are logged with msg.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg(msg)
	}
	writeError(w, code, err.Error())
}
