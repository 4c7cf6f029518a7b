// Package repository defines the persistence interface for metric history,
// proposals, and the narrow slice of the user profile the engine may touch.
package repository

import (
	"context"
	"time"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// Store provides read/write access to the engine's persisted state.
//
// The status field of a proposal is the only contended resource in the
// engine; TransitionProposal is a compare-and-set on it so a user-initiated
// approve racing a scheduled re-detection cannot corrupt state. Wherever a
// transition carries a target write, the two writes are one logical
// transaction: a storage failure leaves the proposal in its pre-transition
// state.
type Store interface {
	// UpsertMetric writes one (user, date) observation. Re-submitting the
	// same date overwrites, never duplicates.
	UpsertMetric(ctx context.Context, rec model.DailyMetricRecord) error

	// MetricsSince returns the user's records dated at or after since,
	// ascending by date.
	MetricsSince(ctx context.Context, userID string, since time.Time) ([]model.DailyMetricRecord, error)

	// UserIDs lists every user with a profile, for the batch scheduler.
	UserIDs(ctx context.Context) ([]string, error)

	// Profile returns the user's calorie target, goal, and auto-apply
	// opt-in. Returns ErrNotFound for unknown users.
	Profile(ctx context.Context, userID string) (model.Profile, error)

	// SaveProfile creates or replaces a profile.
	SaveProfile(ctx context.Context, p model.Profile) error

	// CreateProposal persists a new proposal. When targetKcal is non-nil
	// (trusted auto-apply) the user's live target is written in the same
	// transaction. A user has at most one open proposal: creating a
	// pending proposal while another is pending fails with
	// ErrOpenProposalExists, checked atomically with the insert.
	CreateProposal(ctx context.Context, p *model.AdaptationProposal, targetKcal *int) error

	// Proposal returns a proposal by id, or ErrNotFound.
	Proposal(ctx context.Context, id string) (model.AdaptationProposal, error)

	// PendingProposals lists the user's pending proposals, newest first.
	PendingProposals(ctx context.Context, userID string) ([]model.AdaptationProposal, error)

	// OpenProposal returns the user's single pending proposal, or nil.
	OpenProposal(ctx context.Context, userID string) (*model.AdaptationProposal, error)

	// TransitionProposal compare-and-sets the proposal status from expect
	// to next, stamping the transition time and, when targetKcal is
	// non-nil, writing the user's live target atomically. On a status
	// mismatch it returns the current proposal and ErrStatusConflict.
	TransitionProposal(ctx context.Context, id string, expect, next model.ProposalStatus, at time.Time, targetKcal *int) (model.AdaptationProposal, error)
}
