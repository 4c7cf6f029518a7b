// Package model contains domain models passed between layers.
package model

import "time"

// AdaptationType classifies a detected metabolic adaptation.
type AdaptationType string

// Adaptation types produced by the detector.
const (
	// DeficitStall: weight loss is slowing despite a stable caloric deficit.
	DeficitStall AdaptationType = "deficit_stall"
	// SurplusSlow: weight gain is slowing despite a stable caloric surplus.
	SurplusSlow AdaptationType = "surplus_slow"
	// NoAdaptation: nothing actionable, or a guard veto downgraded the
	// detection to an informational event.
	NoAdaptation AdaptationType = "none"
)

// Goal is the direction a user is steering their weight in.
type Goal string

// Supported user goals. Directionality of a calorie retarget follows the
// goal: a deficit stall tightens the target for losers, a surplus slowdown
// raises it for gainers.
const (
	GoalLose Goal = "lose"
	GoalGain Goal = "gain"
)

// ProposalStatus is the lifecycle state of an AdaptationProposal.
type ProposalStatus string

// Proposal lifecycle states. A proposal's numeric fields are frozen at
// creation; only the status and its timestamps mutate afterwards.
const (
	StatusPending    ProposalStatus = "pending"
	StatusApproved   ProposalStatus = "approved"
	StatusDeclined   ProposalStatus = "declined"
	StatusApplied    ProposalStatus = "applied"
	StatusRolledBack ProposalStatus = "rolled_back"
)

// Terminal reports whether no further transition can leave the status.
func (s ProposalStatus) Terminal() bool {
	return s == StatusDeclined || s == StatusRolledBack
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Approve collapses pending -> applied in one step; the approved
// state stays representable for stores that persist it mid-flight.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusApplied || next == StatusDeclined
	case StatusApproved:
		return next == StatusApplied
	case StatusApplied:
		return next == StatusRolledBack
	default:
		return false
	}
}

// DailyMetricRecord is one observation per user per calendar date.
// Optional fields are pointers; nil means "not logged that day".
type DailyMetricRecord struct {
	UserID         string    `json:"user_id"`
	Date           time.Time `json:"date"`
	Weight         *float64  `json:"weight,omitempty"`          // pounds
	IntakeKcal     *float64  `json:"intake_kcal,omitempty"`     // kcal eaten
	AdherenceScore *float64  `json:"adherence_score,omitempty"` // 0.0..1.0
	UpdatedAt      time.Time `json:"updated_at"`
}

// AdaptationProposal is the engine's sole output artifact: one detected
// adaptation event awaiting (or past) a decision. It doubles as the audit
// trail for every calorie-target change, so it is never deleted.
type AdaptationProposal struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Type        AdaptationType `json:"adaptation_type"`

	// Magnitude is the signed bounded fraction applied to the old target,
	// e.g. -0.12 means the rate slowed 12% more than expected.
	Magnitude float64 `json:"magnitude"`

	OldDailyCalories int `json:"old_daily_calories"`
	NewDailyCalories int `json:"new_daily_calories"`

	// Energy-expenditure estimates derived from intake and the observed
	// rate of weight change in each window, kcal/day.
	OldExpenditureEstimate float64 `json:"old_expenditure_estimate"`
	NewExpenditureEstimate float64 `json:"new_expenditure_estimate"`

	DataPointsUsed int     `json:"data_points_used"`
	Confidence     float64 `json:"confidence"`

	Status ProposalStatus `json:"status"`

	// CoachMessage is produced by an external templating collaborator from
	// (type, magnitude). The engine carries it as opaque data.
	CoachMessage string `json:"coach_message"`

	CreatedAt    time.Time  `json:"created_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// Informational reports whether the proposal carries no calorie change
// (guard-veto supportive events are persisted this way).
func (p *AdaptationProposal) Informational() bool {
	return p.Type == NoAdaptation
}

// Profile is the slice of the user's nutrition profile this engine reads.
// Writes to DailyCalories happen only through approve and rollback.
type Profile struct {
	UserID        string `json:"user_id"`
	DailyCalories int    `json:"daily_calories"`
	Goal          Goal   `json:"goal"`
	AutoApply     bool   `json:"auto_apply"` // explicit opt-in, default off
}

// DetectionJob is the unit of work flowing through the batch queue.
type DetectionJob struct {
	UserID     string
	EnqueuedAt time.Time
}

// DateOf normalizes a timestamp to its UTC calendar date. All metric
// records and window boundaries are keyed on normalized dates.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
