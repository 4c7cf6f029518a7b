// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// ProposalDependencies defines the interface for proposal reads and
// decisions.
type ProposalDependencies interface {
	Proposal(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
	Approve(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
	Decline(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
	Rollback(ctx context.Context, proposalID string) (model.AdaptationProposal, error)
}

// ProposalsHandler handles proposal reads and the decision endpoints.
type ProposalsHandler struct {
	deps ProposalDependencies
}

// NewProposalsHandler creates a new proposals handler.
func NewProposalsHandler(deps ProposalDependencies) *ProposalsHandler {
	return &ProposalsHandler{deps: deps}
}

// HandleProposals routes /proposals/{id} and /proposals/{id}/{action}.
// GET reads; POST with action approve, decline, or rollback decides.
func (h *ProposalsHandler) HandleProposals(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/proposals/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		h.handleGet(w, r, id)
	case r.Method == http.MethodPost && action != "":
		h.handleDecision(w, r, id, action)
	default:
		http.NotFound(w, r)
	}
}

func (h *ProposalsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.deps.Proposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProposalsHandler) handleDecision(w http.ResponseWriter, r *http.Request, id, action string) {
	var decide func(context.Context, string) (model.AdaptationProposal, error)
	switch action {
	case "approve":
		decide = h.deps.Approve
	case "decline":
		decide = h.deps.Decline
	case "rollback":
		decide = h.deps.Rollback
	default:
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	p, err := decide(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
