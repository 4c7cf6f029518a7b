// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nutrikit/adapt/internal/adapters/repository"
	"github.com/nutrikit/adapt/internal/app"
	"github.com/nutrikit/adapt/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Record validates and stores one daily observation.
	Record(ctx context.Context, rec model.DailyMetricRecord) error

	// Enqueue pushes a detection job for async processing. Returns false
	// on backpressure.
	Enqueue(ctx context.Context, job model.DetectionJob) bool

	// Proposal reads and decision operations.
	Proposal(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
	ListPending(ctx context.Context, userID string) ([]model.AdaptationProposal, error)
	Approve(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
	Decline(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
	Rollback(ctx context.Context, proposalID string) (model.AdaptationProposal, error)

	// Profile operations.
	Profile(ctx context.Context, userID string) (model.Profile, error)
	SaveProfile(ctx context.Context, p model.Profile) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	metricsHandler   *MetricsHandler
	detectHandler    *DetectHandler
	proposalsHandler *ProposalsHandler
	usersHandler     *UsersHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		metricsHandler:   NewMetricsHandler(deps),
		detectHandler:    NewDetectHandler(deps),
		proposalsHandler: NewProposalsHandler(deps),
		usersHandler:     NewUsersHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/metrics", MetricsMiddleware(s.metricsHandler.HandlePostMetric, "metrics"))
	mux.HandleFunc("/detect/", MetricsMiddleware(s.detectHandler.HandlePostDetect, "detect"))
	mux.HandleFunc("/proposals/", MetricsMiddleware(s.proposalsHandler.HandleProposals, "proposals"))
	mux.HandleFunc("/users/", MetricsMiddleware(s.usersHandler.HandleUsers, "users"))
}

// metricRequest mirrors the JSON schema for POST /metrics.
type metricRequest struct {
	UserID         string   `json:"user_id"`
	Date           string   `json:"date"`
	Weight         *float64 `json:"weight,omitempty"`
	IntakeKcal     *float64 `json:"intake_kcal,omitempty"`
	AdherenceScore *float64 `json:"adherence_score,omitempty"`
}

func (m metricRequest) toRecord() (model.DailyMetricRecord, error) {
	switch {
	case strings.TrimSpace(m.UserID) == "":
		return model.DailyMetricRecord{}, errors.New("missing user_id")
	case strings.TrimSpace(m.Date) == "":
		return model.DailyMetricRecord{}, errors.New("missing date")
	}
	day, err := time.Parse("2006-01-02", m.Date)
	if err != nil {
		return model.DailyMetricRecord{}, errors.New("invalid date; must be YYYY-MM-DD")
	}
	return model.DailyMetricRecord{
		UserID:         m.UserID,
		Date:           model.DateOf(day),
		Weight:         m.Weight,
		IntakeKcal:     m.IntakeKcal,
		AdherenceScore: m.AdherenceScore,
	}, nil
}

// profileRequest mirrors the JSON schema for PUT /users/{user_id}/profile.
type profileRequest struct {
	DailyCalories int    `json:"daily_calories"`
	Goal          string `json:"goal"`
	AutoApply     bool   `json:"auto_apply"`
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates engine and repository sentinels to HTTP
// statuses so handlers share one mapping.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, app.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err)
	case errors.Is(err, app.ErrRollbackExpired):
		writeError(w, http.StatusConflict, "rollback_expired", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
