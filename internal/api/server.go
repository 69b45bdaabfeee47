package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/FairForge/meridian/internal/audit"
	"github.com/FairForge/meridian/internal/config"
	"github.com/FairForge/meridian/internal/failover"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Coordinator is the slice of the failover coordinator the API needs.
type Coordinator interface {
	Snapshot(ctx context.Context) (failover.Snapshot, error)
	ManualFailover(ctx context.Context, reason string, force bool) (string, error)
	ConfirmFailback(ctx context.Context, eventID string) error
	Override(ctx context.Context, choice string) error
	AbortPromotion(ctx context.Context) error
}

type Server struct {
	logger      *zap.Logger
	router      *mux.Router
	httpServer  *http.Server
	coordinator Coordinator
	auditLog    *audit.Log
	metrics     *Metrics
	jwtSecret   string

	requestCount int64
	startTime    time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger, coord Coordinator, auditLog *audit.Log, metrics *Metrics) *Server {
	s := &Server{
		logger:      logger,
		coordinator: coord,
		auditLog:    auditLog,
		metrics:     metrics,
		jwtSecret:   cfg.Server.JWTSecret,
		router:      mux.NewRouter(),
		startTime:   time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/livez", s.handleLivez).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.HandleFunc("/failover/manual", s.requireOperator(s.handleManualFailover)).Methods("POST")
	s.router.HandleFunc("/failback/confirm", s.requireOperator(s.handleFailbackConfirm)).Methods("POST")
	s.router.HandleFunc("/degraded/resolve", s.requireOperator(s.handleDegradedResolve)).Methods("POST")
	s.router.HandleFunc("/promotion/abort", s.requireOperator(s.handlePromotionAbort)).Methods("POST")

	s.router.PathPrefix("/api/v1/audit").Handler(
		http.StripPrefix("/api/v1/audit", audit.NewAPIHandler(s.auditLog, s.logger).Router()))

	s.router.Use(s.loggingMiddleware)
}

type statusResponse struct {
	State         string                           `json:"state"`
	ActiveRegion  string                           `json:"active_region"`
	Halted        bool                             `json:"halted"`
	Regions       []failover.Region                `json:"regions"`
	Channels      []failover.ReplicationChannel    `json:"channels"`
	Beliefs       map[string]failover.Belief       `json:"health_beliefs"`
	FailureCounts map[string]int                   `json:"failure_counts"`
	LastEvent     *failover.FailoverEvent          `json:"last_event,omitempty"`
	TakenAt       time.Time                        `json:"taken_at"`
	Uptime        float64                          `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coordinator.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, statusResponse{
		State:         string(snap.State),
		ActiveRegion:  snap.ActiveRegion(),
		Halted:        snap.Halted,
		Regions:       snap.Regions,
		Channels:      snap.Channels,
		Beliefs:       snap.Beliefs,
		FailureCounts: snap.FailureCounts,
		LastEvent:     snap.LastEvent,
		TakenAt:       snap.TakenAt,
		Uptime:        time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

type manualFailoverRequest struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

func (s *Server) handleManualFailover(w http.ResponseWriter, r *http.Request) {
	var req manualFailoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason is required")
		return
	}

	eventID, err := s.coordinator.ManualFailover(r.Context(), req.Reason, req.Force)
	if err != nil {
		respondCoordinatorError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID})
}

type failbackConfirmRequest struct {
	EventID string `json:"event_id"`
}

func (s *Server) handleFailbackConfirm(w http.ResponseWriter, r *http.Request) {
	var req failbackConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventID == "" {
		respondError(w, http.StatusBadRequest, "event_id is required")
		return
	}

	if err := s.coordinator.ConfirmFailback(r.Context(), req.EventID); err != nil {
		respondCoordinatorError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "failback started"})
}

type degradedResolveRequest struct {
	Choice string `json:"choice"`
}

func (s *Server) handleDegradedResolve(w http.ResponseWriter, r *http.Request) {
	var req degradedResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Choice != failover.OverridePromote && req.Choice != failover.OverrideRestore {
		respondError(w, http.StatusBadRequest, "choice must be promote or restore")
		return
	}

	if err := s.coordinator.Override(r.Context(), req.Choice); err != nil {
		respondCoordinatorError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "override applied"})
}

func (s *Server) handlePromotionAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.AbortPromotion(r.Context()); err != nil {
		respondCoordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "promotion aborted"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func respondCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, failover.ErrWrongState),
		errors.Is(err, failover.ErrEventInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, failover.ErrUnknownEvent):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, failover.ErrHalted),
		errors.Is(err, failover.ErrInvariantViolation):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
