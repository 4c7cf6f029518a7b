// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// UserDependencies defines the interface for per-user reads and profile
// writes.
type UserDependencies interface {
	ListPending(ctx context.Context, userID string) ([]model.AdaptationProposal, error)
	Profile(ctx context.Context, userID string) (model.Profile, error)
	SaveProfile(ctx context.Context, p model.Profile) error
}

// UsersHandler handles the /users subtree.
type UsersHandler struct {
	deps UserDependencies
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps UserDependencies) *UsersHandler {
	return &UsersHandler{deps: deps}
}

// HandleUsers routes /users/{user_id}/proposals/pending and
// /users/{user_id}/profile.
func (h *UsersHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/users/")
	userID, rest, _ := strings.Cut(path, "/")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodGet && rest == "proposals/pending":
		h.handlePending(w, r, userID)
	case r.Method == http.MethodGet && rest == "profile":
		h.handleGetProfile(w, r, userID)
	case r.Method == http.MethodPut && rest == "profile":
		h.handlePutProfile(w, r, userID)
	default:
		http.NotFound(w, r)
	}
}

func (h *UsersHandler) handlePending(w http.ResponseWriter, r *http.Request, userID string) {
	proposals, err := h.deps.ListPending(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if proposals == nil {
		proposals = []model.AdaptationProposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (h *UsersHandler) handleGetProfile(w http.ResponseWriter, r *http.Request, userID string) {
	p, err := h.deps.Profile(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *UsersHandler) handlePutProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p := model.Profile{
		UserID:        userID,
		DailyCalories: req.DailyCalories,
		Goal:          model.Goal(req.Goal),
		AutoApply:     req.AutoApply,
	}
	if err := h.deps.SaveProfile(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
