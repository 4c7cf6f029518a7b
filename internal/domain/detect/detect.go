// Package detect classifies metabolic adaptation from the comparison
// windows and derives the bounded, confidence-scored calorie retarget.
package detect

import (
	"math"

	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/internal/domain/trend"
)

// Default detection constants. Magnitude is deliberately bounded so no
// single detection can swing the target by more than a quarter: extreme
// raw signals are more likely noise than biology.
const (
	defaultMinRelativeChange = 0.15
	defaultMagnitudeFloor    = 0.10
	defaultMagnitudeCeiling  = 0.25
	defaultMinDailyCalories  = 1200
	defaultMaxDailyCalories  = 5000
	defaultConfidenceFloor   = 0.5
	defaultConfidenceCeiling = 1.0
	defaultConfidencePoints  = 14 // sample count that earns full density credit

	kcalPerPound = 3500
	daysPerWeek  = 7
)

// Result carries everything the engine needs to assemble a proposal.
type Result struct {
	Type model.AdaptationType

	// RawChange is the relative rate slowdown before bounding.
	RawChange float64

	// Magnitude is the bounded fraction, negative because the rate slowed.
	Magnitude float64

	OldDailyCalories int
	NewDailyCalories int

	OldExpenditureEstimate float64
	NewExpenditureEstimate float64

	DataPointsUsed int
	Confidence     float64
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithMinRelativeChange sets the minimum detectable rate slowdown.
func WithMinRelativeChange(frac float64) Option {
	return func(d *Detector) {
		if frac > 0 {
			d.minRelativeChange = frac
		}
	}
}

// WithMagnitudeBounds sets the floor and ceiling of the applied magnitude.
func WithMagnitudeBounds(floor, ceiling float64) Option {
	return func(d *Detector) {
		if floor > 0 && ceiling > floor {
			d.magnitudeFloor = floor
			d.magnitudeCeiling = ceiling
		}
	}
}

// WithCalorieBounds sets the hard clamp on any proposed daily target.
func WithCalorieBounds(minKcal, maxKcal int) Option {
	return func(d *Detector) {
		if minKcal > 0 && maxKcal > minKcal {
			d.minDailyCalories = minKcal
			d.maxDailyCalories = maxKcal
		}
	}
}

// WithConfidenceBounds sets the clamp applied to the confidence score.
func WithConfidenceBounds(floor, ceiling float64) Option {
	return func(d *Detector) {
		if floor > 0 && ceiling > floor {
			d.confidenceFloor = floor
			d.confidenceCeiling = ceiling
		}
	}
}

// WithConfidencePoints sets the sample count that earns full density
// credit in the confidence score.
func WithConfidencePoints(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.confidencePoints = n
		}
	}
}

// Detector compares the two windows and computes the retarget numbers.
type Detector struct {
	minRelativeChange float64
	magnitudeFloor    float64
	magnitudeCeiling  float64
	minDailyCalories  int
	maxDailyCalories  int
	confidenceFloor   float64
	confidenceCeiling float64
	confidencePoints  int
}

// New creates a Detector with configuration options.
func New(opts ...Option) *Detector {
	d := &Detector{
		minRelativeChange: defaultMinRelativeChange,
		magnitudeFloor:    defaultMagnitudeFloor,
		magnitudeCeiling:  defaultMagnitudeCeiling,
		minDailyCalories:  defaultMinDailyCalories,
		maxDailyCalories:  defaultMaxDailyCalories,
		confidenceFloor:   defaultConfidenceFloor,
		confidenceCeiling: defaultConfidenceCeiling,
		confidencePoints:  defaultConfidencePoints,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify compares window rates and names the adaptation. Rates that
// diverge in sign indicate data noise, never adaptation. Directionality
// follows the user's goal: a loser's stall and a gainer's slowdown are the
// only actionable patterns.
func (d *Detector) Classify(pair *trend.Pair, goal model.Goal) (model.AdaptationType, float64) {
	ra, rb := pair.A.Rate, pair.B.Rate
	if ra == 0 || rb == 0 || (ra < 0) != (rb < 0) {
		return model.NoAdaptation, 0
	}

	rel := math.Abs(rb-ra) / math.Abs(ra)
	slowing := math.Abs(rb) < math.Abs(ra)
	if !slowing || rel < d.minRelativeChange {
		return model.NoAdaptation, 0
	}

	switch {
	case ra < 0 && goal == model.GoalLose:
		return model.DeficitStall, rel
	case ra > 0 && goal == model.GoalGain:
		return model.SurplusSlow, rel
	default:
		return model.NoAdaptation, 0
	}
}

// Evaluate runs classification and, when an adaptation is present, derives
// the bounded magnitude, the retargeted daily calories, the expenditure
// estimates, and the advisory confidence score.
func (d *Detector) Evaluate(pair *trend.Pair, goal model.Goal, oldDailyCalories int) Result {
	res := Result{
		Type:             model.NoAdaptation,
		OldDailyCalories: oldDailyCalories,
		NewDailyCalories: oldDailyCalories,
		DataPointsUsed:   pair.A.Points + pair.B.Points,
	}
	res.Confidence = d.confidence(pair, res.DataPointsUsed)
	res.OldExpenditureEstimate = expenditure(&pair.A)
	res.NewExpenditureEstimate = expenditure(&pair.B)

	typ, rel := d.Classify(pair, goal)
	if typ == model.NoAdaptation {
		return res
	}

	mag := clip(rel, d.magnitudeFloor, d.magnitudeCeiling)
	next := float64(oldDailyCalories)
	switch typ {
	case model.DeficitStall:
		next *= 1 - mag
	case model.SurplusSlow:
		next *= 1 + mag
	}

	res.Type = typ
	res.RawChange = rel
	res.Magnitude = -mag // negative: the rate slowed relative to expectation
	res.NewDailyCalories = clipInt(int(math.Round(next)), d.minDailyCalories, d.maxDailyCalories)
	return res
}

// confidence rewards both consistent logging and dense sampling. It is
// advisory metadata; it never gates whether a proposal is created.
func (d *Detector) confidence(pair *trend.Pair, points int) float64 {
	var sum float64
	var n int
	for _, a := range pair.A.Adherence {
		sum += a
		n++
	}
	for _, a := range pair.B.Adherence {
		sum += a
		n++
	}
	var mean float64
	if n > 0 {
		mean = sum / float64(n)
	}
	raw := mean * (float64(points) / float64(d.confidencePoints))
	return clip(raw, d.confidenceFloor, d.confidenceCeiling)
}

// expenditure estimates daily energy expenditure for a window: intake plus
// the deficit (or minus the surplus) implied by the weight rate.
func expenditure(w *trend.Window) float64 {
	return w.MeanIntake - w.Rate*kcalPerPound/daysPerWeek
}

func clip(v, floor, ceiling float64) float64 {
	return math.Min(ceiling, math.Max(floor, v))
}

func clipInt(v, floor, ceiling int) int {
	if v < floor {
		return floor
	}
	if v > ceiling {
		return ceiling
	}
	return v
}
