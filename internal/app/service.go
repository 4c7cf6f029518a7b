// Package app wires the detection pipeline and the approval state machine
// into the engine service consumed by the HTTP API and the batch workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nutrikit/adapt/internal/adapters/notify"
	"github.com/nutrikit/adapt/internal/adapters/repository"
	"github.com/nutrikit/adapt/internal/domain/detect"
	"github.com/nutrikit/adapt/internal/domain/guard"
	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/internal/domain/trend"
	"github.com/nutrikit/adapt/pkg/logger"
	"github.com/nutrikit/adapt/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultRollbackWindow         = 24 * time.Hour
	defaultHistoryDays            = 60
	defaultAutoApplyMinConfidence = 0.85

	percent = 100
)

// Skip reasons recorded when a detection cycle ends in a no-op.
const (
	skipOpenProposal = "open_proposal"
	skipNoAdaptation = "no_adaptation"
)

// MessageFunc produces the human-readable coach message for a detection.
// The real implementation is an external templating collaborator; the
// engine only requires that it be a pure function of (type, magnitude).
type MessageFunc func(t model.AdaptationType, magnitude float64) string

// Engine implements the adaptation detection pipeline and the approval
// state machine. Per-user detection is pure aside from its own reads and
// writes, so one Engine serves any number of concurrent workers.
type Engine struct {
	store    repository.Store
	notifier notify.Notifier
	message  MessageFunc

	smoother *trend.Smoother
	selector *trend.Selector
	detector *detect.Detector
	guard    *guard.Guard

	historyDays            int
	rollbackWindow         time.Duration
	autoApplyMinConfidence float64

	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithNotifier sets the message-delivery collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMessageFunc sets the coach-message templating collaborator.
func WithMessageFunc(f MessageFunc) Option {
	return func(e *Engine) {
		if f != nil {
			e.message = f
		}
	}
}

// WithSmoother sets the trend smoother.
func WithSmoother(s *trend.Smoother) Option {
	return func(e *Engine) {
		if s != nil {
			e.smoother = s
		}
	}
}

// WithSelector sets the window selector.
func WithSelector(s *trend.Selector) Option {
	return func(e *Engine) {
		if s != nil {
			e.selector = s
		}
	}
}

// WithDetector sets the adaptation detector.
func WithDetector(d *detect.Detector) Option {
	return func(e *Engine) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithGuard sets the safety guard.
func WithGuard(g *guard.Guard) Option {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithHistoryDays sets how far back detection reads metric history.
func WithHistoryDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.historyDays = days
		}
	}
}

// WithRollbackWindow sets how long an applied proposal stays reversible.
func WithRollbackWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.rollbackWindow = d
		}
	}
}

// WithAutoApplyMinConfidence sets the confidence cutoff for trusted
// auto-apply. The mode itself stays off unless the user opted in.
func WithAutoApplyMinConfidence(c float64) Option {
	return func(e *Engine) {
		if c > 0 {
			e.autoApplyMinConfidence = c
		}
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine over the given store with default components.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:                  store,
		message:                defaultMessage,
		smoother:               trend.NewSmoother(),
		selector:               trend.NewSelector(),
		detector:               detect.New(),
		guard:                  guard.New(),
		historyDays:            defaultHistoryDays,
		rollbackWindow:         defaultRollbackWindow,
		autoApplyMinConfidence: defaultAutoApplyMinConfidence,
		now:                    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	if e.notifier == nil {
		e.notifier = notify.NewLogNotifier()
	}

	return e
}

// Record validates and upserts one (user, date) observation. Partial
// records are valid: weight-only and intake-only days both happen.
func (e *Engine) Record(ctx context.Context, rec model.DailyMetricRecord) error {
	if err := validateRecord(&rec); err != nil {
		metrics.RecordIngestRejection()
		return err
	}

	rec.Date = model.DateOf(rec.Date)
	rec.UpdatedAt = e.now().UTC()
	if err := e.store.UpsertMetric(ctx, rec); err != nil {
		return fmt.Errorf("upsert metric: %w", err)
	}

	metrics.RecordMetricIngested()
	return nil
}

func validateRecord(rec *model.DailyMetricRecord) error {
	switch {
	case rec.UserID == "":
		return fmt.Errorf("missing user_id: %w", ErrValidation)
	case rec.Date.IsZero():
		return fmt.Errorf("missing date: %w", ErrValidation)
	case rec.Weight != nil && *rec.Weight <= 0:
		return fmt.Errorf("weight %v out of range: %w", *rec.Weight, ErrValidation)
	case rec.IntakeKcal != nil && *rec.IntakeKcal < 0:
		return fmt.Errorf("intake_kcal %v out of range: %w", *rec.IntakeKcal, ErrValidation)
	case rec.AdherenceScore != nil && (*rec.AdherenceScore < 0 || *rec.AdherenceScore > 1):
		return fmt.Errorf("adherence_score %v out of range: %w", *rec.AdherenceScore, ErrValidation)
	}
	return nil
}

// Detect runs one detection cycle for the user. It is idempotent and
// never mutates the live calorie target: a nil result means nothing
// actionable was found, which is an expected outcome, not an error.
func (e *Engine) Detect(ctx context.Context, userID string) (*model.AdaptationProposal, error) {
	metrics.RecordDetectionRun()

	// At most one open proposal per user. The store enforces the rule at
	// create time; checking here skips the pipeline work early.
	if open, err := e.store.OpenProposal(ctx, userID); err != nil {
		return nil, fmt.Errorf("check open proposal: %w", err)
	} else if open != nil {
		metrics.RecordDetectionSkipped(skipOpenProposal)
		e.logger.Debug(ctx, "skipping detection, proposal already pending",
			logger.String("userID", userID),
			logger.String("proposalID", open.ID),
		)
		return open, nil
	}

	profile, err := e.store.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	since := model.DateOf(e.now()).AddDate(0, 0, -e.historyDays)
	records, err := e.store.MetricsSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	smoothed := e.smoother.Smooth(weightSamples(records))

	pair, skip := e.selector.Select(records, smoothed)
	if pair == nil {
		metrics.RecordDetectionSkipped(string(skip))
		e.logger.Debug(ctx, "detection no-op",
			logger.String("userID", userID),
			logger.String("reason", string(skip)),
		)
		return nil, nil
	}

	result := e.detector.Evaluate(pair, profile.Goal, profile.DailyCalories)
	if result.Type == model.NoAdaptation {
		metrics.RecordDetectionSkipped(skipNoAdaptation)
		return nil, nil
	}

	if veto := e.guard.Check(records, smoothed, result.Confidence); veto != nil {
		metrics.RecordGuardVeto(string(veto.Reason))
		e.logger.Info(ctx, "safety guard vetoed proposal",
			logger.String("userID", userID),
			logger.String("reason", string(veto.Reason)),
		)
		return e.createInformational(ctx, userID, pair, &result)
	}

	return e.createProposal(ctx, &profile, pair, &result)
}

// weightSamples extracts the dated weight series for smoothing. Records
// without a weight that day contribute nothing to the trend.
func weightSamples(records []model.DailyMetricRecord) []trend.Sample {
	out := make([]trend.Sample, 0, len(records))
	for i := range records {
		if records[i].Weight != nil {
			out = append(out, trend.Sample{Date: records[i].Date, Value: *records[i].Weight})
		}
	}
	return out
}

// createProposal persists an actionable proposal, auto-applying it only
// for opted-in users with sufficient confidence.
func (e *Engine) createProposal(ctx context.Context, profile *model.Profile, pair *trend.Pair, result *detect.Result) (*model.AdaptationProposal, error) {
	p := e.buildProposal(profile.UserID, pair, result)
	p.Type = result.Type
	p.Magnitude = result.Magnitude
	p.NewDailyCalories = result.NewDailyCalories
	p.CoachMessage = e.message(result.Type, result.Magnitude)

	var targetKcal *int
	if profile.AutoApply && result.Confidence >= e.autoApplyMinConfidence {
		now := p.CreatedAt
		p.Status = model.StatusApplied
		p.DecidedAt = &now
		p.AppliedAt = &now
		targetKcal = &result.NewDailyCalories
	}

	if err := e.store.CreateProposal(ctx, p, targetKcal); err != nil {
		// A concurrent detection won the race to open a proposal; defer
		// to it the same way the up-front check does.
		if errors.Is(err, repository.ErrOpenProposalExists) {
			metrics.RecordDetectionSkipped(skipOpenProposal)
			open, oerr := e.store.OpenProposal(ctx, profile.UserID)
			if oerr != nil {
				return nil, fmt.Errorf("load open proposal: %w", oerr)
			}
			return open, nil
		}
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	metrics.RecordProposalCreated(string(p.Type))
	if targetKcal != nil {
		metrics.RecordAutoApply()
	}
	e.deliver(ctx, p)
	return p, nil
}

// createInformational persists the veto replacement: a none-type event
// carrying a supportive message and no calorie change. It is terminal at
// creation; there is nothing to decide.
func (e *Engine) createInformational(ctx context.Context, userID string, pair *trend.Pair, result *detect.Result) (*model.AdaptationProposal, error) {
	p := e.buildProposal(userID, pair, result)
	p.Type = model.NoAdaptation
	p.CoachMessage = e.message(model.NoAdaptation, 0)
	now := p.CreatedAt
	p.Status = model.StatusApplied
	p.AppliedAt = &now

	if err := e.store.CreateProposal(ctx, p, nil); err != nil {
		return nil, fmt.Errorf("create informational event: %w", err)
	}

	metrics.RecordProposalCreated(string(model.NoAdaptation))
	e.deliver(ctx, p)
	return p, nil
}

// buildProposal fills the fields shared by actionable and informational
// proposals. Numeric fields are frozen here; only status and timestamps
// may change afterwards.
func (e *Engine) buildProposal(userID string, pair *trend.Pair, result *detect.Result) *model.AdaptationProposal {
	return &model.AdaptationProposal{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		WindowStart:            pair.A.Start,
		WindowEnd:              pair.B.End,
		Type:                   model.NoAdaptation,
		OldDailyCalories:       result.OldDailyCalories,
		NewDailyCalories:       result.OldDailyCalories,
		OldExpenditureEstimate: result.OldExpenditureEstimate,
		NewExpenditureEstimate: result.NewExpenditureEstimate,
		DataPointsUsed:         result.DataPointsUsed,
		Confidence:             result.Confidence,
		Status:                 model.StatusPending,
		CreatedAt:              e.now().UTC(),
	}
}

// deliver hands the coach message to the delivery collaborator. Delivery
// failures are logged, never propagated: the proposal is already durable.
func (e *Engine) deliver(ctx context.Context, p *model.AdaptationProposal) {
	err := e.notifier.Deliver(ctx, notify.Message{
		UserID:     p.UserID,
		ProposalID: p.ID,
		Body:       p.CoachMessage,
	})
	if err != nil {
		metrics.RecordNotificationError()
		e.logger.Warn(ctx, "coach message delivery failed",
			logger.String("proposalID", p.ID),
			logger.Error(err),
		)
	}
}

// Approve transitions a pending proposal to applied and writes the new
// daily target in the same logical transaction. Retrying approve on an
// already-applied proposal is a no-op success, tolerating at-least-once
// delivery from callers.
func (e *Engine) Approve(ctx context.Context, proposalID string) (model.AdaptationProposal, error) {
	p, err := e.store.Proposal(ctx, proposalID)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("load proposal: %w", err)
	}

	if p.Informational() {
		return p, fmt.Errorf("approve %s: informational events carry no decision: %w", proposalID, ErrInvalidTransition)
	}
	if p.Status == model.StatusApplied {
		return p, nil // idempotent retry
	}
	if p.Status != model.StatusPending {
		return p, fmt.Errorf("approve %s in status %s: %w", proposalID, p.Status, ErrInvalidTransition)
	}

	updated, err := e.store.TransitionProposal(ctx, proposalID, model.StatusPending, model.StatusApplied, e.now(), &p.NewDailyCalories)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return e.resolveApproveConflict(ctx, proposalID)
		}
		return model.AdaptationProposal{}, fmt.Errorf("apply proposal: %w", err)
	}

	metrics.RecordApproval()
	e.logger.Info(ctx, "proposal applied",
		logger.String("proposalID", proposalID),
		logger.Int("newDailyCalories", updated.NewDailyCalories),
	)
	return updated, nil
}

// resolveApproveConflict re-reads after a lost CAS race: losing to an
// identical approve is a no-op success, anything else is invalid.
func (e *Engine) resolveApproveConflict(ctx context.Context, proposalID string) (model.AdaptationProposal, error) {
	metrics.RecordStatusConflict()
	current, err := e.store.Proposal(ctx, proposalID)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("reload proposal: %w", err)
	}
	if current.Status == model.StatusApplied {
		return current, nil
	}
	return current, fmt.Errorf("approve %s in status %s: %w", proposalID, current.Status, ErrInvalidTransition)
}

// Decline transitions a pending proposal to declined. The live target is
// never touched.
func (e *Engine) Decline(ctx context.Context, proposalID string) (model.AdaptationProposal, error) {
	p, err := e.store.Proposal(ctx, proposalID)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("load proposal: %w", err)
	}
	if p.Informational() || p.Status != model.StatusPending {
		return p, fmt.Errorf("decline %s in status %s: %w", proposalID, p.Status, ErrInvalidTransition)
	}

	updated, err := e.store.TransitionProposal(ctx, proposalID, model.StatusPending, model.StatusDeclined, e.now(), nil)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			metrics.RecordStatusConflict()
			return updated, fmt.Errorf("decline %s: %w", proposalID, ErrInvalidTransition)
		}
		return model.AdaptationProposal{}, fmt.Errorf("decline proposal: %w", err)
	}

	metrics.RecordDecline()
	return updated, nil
}

// Rollback restores the pre-approval target if the proposal was applied
// inside the rollback window.
func (e *Engine) Rollback(ctx context.Context, proposalID string) (model.AdaptationProposal, error) {
	p, err := e.store.Proposal(ctx, proposalID)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("load proposal: %w", err)
	}
	if p.Informational() || p.Status != model.StatusApplied || p.AppliedAt == nil {
		return p, fmt.Errorf("rollback %s in status %s: %w", proposalID, p.Status, ErrInvalidTransition)
	}
	if e.now().After(p.AppliedAt.Add(e.rollbackWindow)) {
		return p, fmt.Errorf("rollback %s applied at %s: %w", proposalID, p.AppliedAt.Format(time.RFC3339), ErrRollbackExpired)
	}

	updated, err := e.store.TransitionProposal(ctx, proposalID, model.StatusApplied, model.StatusRolledBack, e.now(), &p.OldDailyCalories)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			metrics.RecordStatusConflict()
			return updated, fmt.Errorf("rollback %s: %w", proposalID, ErrInvalidTransition)
		}
		return model.AdaptationProposal{}, fmt.Errorf("rollback proposal: %w", err)
	}

	metrics.RecordRollback()
	e.logger.Info(ctx, "proposal rolled back",
		logger.String("proposalID", proposalID),
		logger.Int("restoredDailyCalories", p.OldDailyCalories),
	)
	return updated, nil
}

// Proposal returns a single proposal by id.
func (e *Engine) Proposal(ctx context.Context, proposalID string) (model.AdaptationProposal, error) {
	p, err := e.store.Proposal(ctx, proposalID)
	if err != nil {
		return model.AdaptationProposal{}, fmt.Errorf("load proposal: %w", err)
	}
	return p, nil
}

// ListPending returns the user's pending proposals, newest first.
func (e *Engine) ListPending(ctx context.Context, userID string) ([]model.AdaptationProposal, error) {
	out, err := e.store.PendingProposals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

// Profile returns the user's profile.
func (e *Engine) Profile(ctx context.Context, userID string) (model.Profile, error) {
	p, err := e.store.Profile(ctx, userID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// SaveProfile validates and stores a profile.
func (e *Engine) SaveProfile(ctx context.Context, p model.Profile) error {
	switch {
	case p.UserID == "":
		return fmt.Errorf("missing user_id: %w", ErrValidation)
	case p.DailyCalories <= 0:
		return fmt.Errorf("daily_calories %d out of range: %w", p.DailyCalories, ErrValidation)
	case p.Goal != model.GoalLose && p.Goal != model.GoalGain:
		return fmt.Errorf("goal %q unknown: %w", p.Goal, ErrValidation)
	}
	if err := e.store.SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// UserIDs lists users for the batch scheduler.
func (e *Engine) UserIDs(ctx context.Context) ([]string, error) {
	ids, err := e.store.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}

// GetStats returns service statistics for monitoring.
func (e *Engine) GetStats() map[string]interface{} {
	ids, err := e.store.UserIDs(context.Background())
	stats := map[string]interface{}{
		"historyDays":            e.historyDays,
		"rollbackWindowHours":    e.rollbackWindow.Hours(),
		"autoApplyMinConfidence": e.autoApplyMinConfidence,
	}
	if err == nil {
		stats["usersTracked"] = len(ids)
		metrics.UpdateUsersTracked(len(ids))
	}
	return stats
}

// defaultMessage stands in for the external templating collaborator.
func defaultMessage(t model.AdaptationType, magnitude float64) string {
	pct := int(math.Round(math.Abs(magnitude) * percent))
	switch t {
	case model.DeficitStall:
		return fmt.Sprintf("Your progress has slowed about %d%% at the same intake. I put together a small calorie adjustment for you to review.", pct)
	case model.SurplusSlow:
		return fmt.Sprintf("Your gain rate has eased about %d%% at the same intake. I put together a small calorie adjustment for you to review.", pct)
	default:
		return "Nothing to change right now. Keep logging and we'll keep watching the trend together."
	}
}
