// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// DetectDependencies defines the interface for detection triggers.
type DetectDependencies interface {
	Enqueue(ctx context.Context, job model.DetectionJob) bool
}

// DetectHandler handles on-demand detection triggers.
type DetectHandler struct {
	deps DetectDependencies
}

// NewDetectHandler creates a new detect handler.
func NewDetectHandler(deps DetectDependencies) *DetectHandler {
	return &DetectHandler{deps: deps}
}

// HandlePostDetect handles POST /detect/{user_id} requests. Detection runs
// asynchronously on the worker pool; duplicate triggers are harmless
// because a user with an open proposal is skipped.
func (h *DetectHandler) HandlePostDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/detect/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	job := model.DetectionJob{UserID: userID, EnqueuedAt: time.Now().UTC()}
	if ok := h.deps.Enqueue(r.Context(), job); !ok {
		writeError(w, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
