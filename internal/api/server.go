// Package api exposes the engine query and admin operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"alert-engine/internal/alerterr"
	"alert-engine/internal/model"
	"alert-engine/internal/service"
	"alert-engine/internal/store"
)

// Engine is the subset of service.Engine served over HTTP.
type Engine interface {
	RunCycle(ctx context.Context) (*model.CycleResult, error)
	ListActiveAlerts(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	GetNotificationHistory(ctx context.Context, alertID string) ([]*model.NotificationRecord, error)
	GetHealthSummary(ctx context.Context) (*model.HealthSummary, error)
	Channels() []model.NotificationChannel
	AcknowledgeAlert(ctx context.Context, id, by string) error
	ResolveAlert(ctx context.Context, id, by string) error
	SetChannelEnabled(id string, enabled bool) error
	SendTestNotification(ctx context.Context, channelID, message string) (*model.NotificationRecord, error)
}

// Server serves the HTTP API.
type Server struct {
	engine   Engine
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// NewServer creates an API server. gatherer may be nil to disable /metrics.
func NewServer(engine Engine, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	return &Server{
		engine:   engine,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

const apiPrefix = "/api/v1"

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Full paths on the root router so a method mismatch answers 405.
	r.HandleFunc(apiPrefix+"/health", s.health).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/alerts", s.listAlerts).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/alerts/{id}", s.getAlert).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/alerts/{id}/notifications", s.alertHistory).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/alerts/{id}/ack", s.ackAlert).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/alerts/{id}/resolve", s.resolveAlert).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/channels", s.listChannels).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/channels/{id}/enabled", s.setChannelEnabled).Methods(http.MethodPut)
	r.HandleFunc(apiPrefix+"/channels/{id}/test", s.testChannel).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/cycle", s.runCycle).Methods(http.MethodPost)

	r.Use(s.logRequests)
	return r
}

// NewHTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.GetHealthSummary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AlertFilter{
		MetricName: q.Get("metric"),
		Severity:   model.Severity(q.Get("severity")),
		Type:       model.AlertType(q.Get("type")),
	}
	if filter.Severity != model.SeverityNone && !filter.Severity.IsValid() {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "severity must be warning or critical"})
		return
	}

	alerts, err := s.engine.ListActiveAlerts(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.engine.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) alertHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.GetNotificationHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*model.NotificationRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

type actorRequest struct {
	By string `json:"by"`
}

func (s *Server) ackAlert(w http.ResponseWriter, r *http.Request) {
	s.alertAction(w, r, s.engine.AcknowledgeAlert)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	s.alertAction(w, r, s.engine.ResolveAlert)
}

func (s *Server) alertAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id, by string) error) {
	var req actorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.By == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "by is required"})
		return
	}
	id := mux.Vars(r)["id"]
	if err := action(r.Context(), id, req.By); err != nil {
		s.writeError(w, err)
		return
	}
	alert, err := s.engine.GetAlert(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Channels())
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setChannelEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "enabled is required"})
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.engine.SetChannelEnabled(id, *req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

type testRequest struct {
	Message string `json:"message"`
}

func (s *Server) testChannel(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		req.Message = "test notification"
	}
	rec, err := s.engine.SendTestNotification(r.Context(), mux.Vars(r)["id"], req.Message)
	if err != nil && rec == nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, rec)
}

func (s *Server) runCycle(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunCycle(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// Helpers
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, service.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCycleInProgress):
		return http.StatusConflict
	case alerterr.IsConfig(err):
		return http.StatusUnprocessableEntity
	case alerterr.IsSend(err), alerterr.IsDataUnavailable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}
