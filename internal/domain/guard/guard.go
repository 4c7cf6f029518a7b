// Package guard vetoes calorie-changing proposals that would be unsafe or
// that indicate risky user behavior. A veto is a hard stop for the
// detection cycle: the only permitted side effect afterwards is an
// informational message.
package guard

import (
	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/internal/domain/trend"
)

// Default guard thresholds.
const (
	defaultIntakeFloorKcal = 1000.0 // possible under-eating below this
	defaultIntakeLookback  = 7      // days of trailing intake to average
	defaultMaxLossRate     = 2.5    // lb/week, extreme regardless of adherence
	defaultLossSustainDays = 21     // rate must hold this long to count
	defaultMinConfidence   = 0.7    // below this, observe only

	hoursPerDay = 24
	daysPerWeek = 7
)

// Reason names the veto that fired.
type Reason string

// Veto reasons, surfaced in logs, metrics, and the supportive message.
const (
	ReasonLowIntake     Reason = "low_intake"
	ReasonRapidLoss     Reason = "rapid_loss"
	ReasonLowConfidence Reason = "low_confidence"
)

// Veto describes why a detection was downgraded to observe-only.
type Veto struct {
	Reason Reason
}

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithIntakeFloor sets the absolute trailing-mean intake floor in kcal.
func WithIntakeFloor(kcal float64) Option {
	return func(g *Guard) {
		if kcal > 0 {
			g.intakeFloorKcal = kcal
		}
	}
}

// WithIntakeLookback sets how many trailing days of intake feed the
// floor check.
func WithIntakeLookback(days int) Option {
	return func(g *Guard) {
		if days > 0 {
			g.intakeLookback = days
		}
	}
}

// WithMaxLossRate sets the sustained weight-loss rate ceiling in lb/week.
func WithMaxLossRate(lbPerWeek float64) Option {
	return func(g *Guard) {
		if lbPerWeek > 0 {
			g.maxLossRate = lbPerWeek
		}
	}
}

// WithLossSustainDays sets how long the loss rate must hold to be vetoed.
func WithLossSustainDays(days int) Option {
	return func(g *Guard) {
		if days > 0 {
			g.lossSustainDays = days
		}
	}
}

// WithMinConfidence sets the confidence below which detections are
// downgraded to observe-only.
func WithMinConfidence(c float64) Option {
	return func(g *Guard) {
		if c > 0 {
			g.minConfidence = c
		}
	}
}

// Guard holds the safety thresholds.
type Guard struct {
	intakeFloorKcal float64
	intakeLookback  int
	maxLossRate     float64
	lossSustainDays int
	minConfidence   float64
}

// New creates a Guard with configuration options.
func New(opts ...Option) *Guard {
	g := &Guard{
		intakeFloorKcal: defaultIntakeFloorKcal,
		intakeLookback:  defaultIntakeLookback,
		maxLossRate:     defaultMaxLossRate,
		lossSustainDays: defaultLossSustainDays,
		minConfidence:   defaultMinConfidence,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs all vetoes against the user's records (ascending by date),
// the smoothed weight series, and the detection's confidence. The first
// veto wins; nil means the proposal may proceed.
func (g *Guard) Check(records []model.DailyMetricRecord, smoothed []trend.Sample, confidence float64) *Veto {
	if g.lowIntake(records) {
		return &Veto{Reason: ReasonLowIntake}
	}
	if g.rapidLoss(smoothed) {
		return &Veto{Reason: ReasonRapidLoss}
	}
	if confidence < g.minConfidence {
		return &Veto{Reason: ReasonLowConfidence}
	}
	return nil
}

// lowIntake reports whether the trailing mean intake sits under the
// absolute floor, a possible under-eating pattern.
func (g *Guard) lowIntake(records []model.DailyMetricRecord) bool {
	if len(records) == 0 {
		return false
	}
	cutoff := records[len(records)-1].Date.AddDate(0, 0, -(g.intakeLookback - 1))

	var sum float64
	var n int
	for i := len(records) - 1; i >= 0; i-- {
		r := &records[i]
		if r.Date.Before(cutoff) {
			break
		}
		if r.IntakeKcal != nil {
			sum += *r.IntakeKcal
			n++
		}
	}
	return n > 0 && sum/float64(n) < g.intakeFloorKcal
}

// rapidLoss reports whether the smoothed trend shows loss above the
// ceiling sustained over the full lookback span.
func (g *Guard) rapidLoss(smoothed []trend.Sample) bool {
	if len(smoothed) < 2 {
		return false
	}
	last := smoothed[len(smoothed)-1]
	cutoff := last.Date.AddDate(0, 0, -g.lossSustainDays)

	// Earliest sample at or after the cutoff.
	var first *trend.Sample
	for i := range smoothed {
		if !smoothed[i].Date.Before(cutoff) {
			first = &smoothed[i]
			break
		}
	}
	if first == nil || first.Date.Equal(last.Date) {
		return false
	}

	spanDays := last.Date.Sub(first.Date).Hours() / hoursPerDay
	if spanDays < float64(g.lossSustainDays-1) {
		// Not enough span to call the rate sustained.
		return false
	}
	lossPerWeek := (first.Value - last.Value) / spanDays * daysPerWeek
	return lossPerWeek >= g.maxLossRate
}
