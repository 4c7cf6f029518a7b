// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// MetricDependencies defines the interface for metric ingestion.
type MetricDependencies interface {
	Record(ctx context.Context, rec model.DailyMetricRecord) error
}

// MetricsHandler handles daily metric submissions.
type MetricsHandler struct {
	deps MetricDependencies
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(deps MetricDependencies) *MetricsHandler {
	return &MetricsHandler{deps: deps}
}

// HandlePostMetric handles POST /metrics requests. Re-submitting the same
// (user, date) overwrites the earlier record, so the endpoint is safe to
// retry.
func (h *MetricsHandler) HandlePostMetric(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req metricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	rec, err := req.toRecord()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.deps.Record(r.Context(), rec); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "recorded"})
}
