package trend

import (
	"time"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// Default window selection constants. Each window spans up to seven days;
// the two windows' ends sit fourteen days apart, so twenty-one days of
// history is exactly enough ("week 2 vs week 4" of a four-week view).
const (
	defaultWindowDays       = 7
	defaultWindowGapDays    = 14
	defaultMinHistoryDays   = 21
	defaultMinIntakeSamples = 4
	defaultIntakeStability  = 200.0 // kcal

	daysPerWeek  = 7
	hoursPerDay  = 24
	minRatePairs = 2 // a rate needs a start/end weight pair
)

// Skip explains why window selection returned no pair. Empty means a pair
// was produced.
type Skip string

// Skip reasons surfaced to logs and metrics. All of them are expected
// outcomes, not errors.
const (
	SkipNone                Skip = ""
	SkipInsufficientHistory Skip = "insufficient_history"
	SkipSparseWindow        Skip = "sparse_window"
	SkipIntakeUnstable      Skip = "intake_unstable"
)

// Window aggregates one trailing comparison window.
type Window struct {
	Start time.Time
	End   time.Time

	// Rate is the smoothed weight slope in lb/week; negative means losing.
	Rate float64

	MeanIntake    float64
	IntakeSamples int
	WeightSamples int

	// Adherence scores of the records in the window, for confidence.
	Adherence []float64

	// Points counts every record that contributed to the window.
	Points int
}

// Pair holds the two comparison windows: A earlier, B later.
type Pair struct {
	A Window
	B Window
}

// SelectorOption applies a configuration option to the Selector.
type SelectorOption func(*Selector)

// WithWindowDays sets the span of each comparison window.
func WithWindowDays(days int) SelectorOption {
	return func(s *Selector) {
		if days > 0 {
			s.windowDays = days
		}
	}
}

// WithWindowGap sets the offset in days between the two windows' ends.
func WithWindowGap(days int) SelectorOption {
	return func(s *Selector) {
		if days > 0 {
			s.gapDays = days
		}
	}
}

// WithMinHistory sets the minimum days of history required to proceed.
func WithMinHistory(days int) SelectorOption {
	return func(s *Selector) {
		if days > 0 {
			s.minHistoryDays = days
		}
	}
}

// WithMinIntakeSamples sets the minimum intake samples per window.
func WithMinIntakeSamples(n int) SelectorOption {
	return func(s *Selector) {
		if n > 0 {
			s.minIntakeSamples = n
		}
	}
}

// WithIntakeStability sets the maximum kcal difference between the two
// windows' mean intakes before detection is vetoed as a diet change.
func WithIntakeStability(kcal float64) SelectorOption {
	return func(s *Selector) {
		if kcal > 0 {
			s.intakeStability = kcal
		}
	}
}

// Selector partitions recent history into two comparable trailing windows.
type Selector struct {
	windowDays       int
	gapDays          int
	minHistoryDays   int
	minIntakeSamples int
	intakeStability  float64
}

// NewSelector creates a Selector with configuration options.
func NewSelector(opts ...SelectorOption) *Selector {
	s := &Selector{
		windowDays:       defaultWindowDays,
		gapDays:          defaultWindowGapDays,
		minHistoryDays:   defaultMinHistoryDays,
		minIntakeSamples: defaultMinIntakeSamples,
		intakeStability:  defaultIntakeStability,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select builds the comparison pair from the user's records (ascending by
// date) and the smoothed weight series. A nil pair with a Skip reason is a
// no-op outcome, never an error.
func (s *Selector) Select(records []model.DailyMetricRecord, smoothed []Sample) (*Pair, Skip) {
	if len(records) == 0 {
		return nil, SkipInsufficientHistory
	}

	first := records[0].Date
	last := records[len(records)-1].Date
	spanDays := int(last.Sub(first).Hours()/hoursPerDay) + 1
	if spanDays < s.minHistoryDays {
		return nil, SkipInsufficientHistory
	}

	bEnd := last
	bStart := bEnd.AddDate(0, 0, -(s.windowDays - 1))
	aEnd := bEnd.AddDate(0, 0, -s.gapDays)
	aStart := aEnd.AddDate(0, 0, -(s.windowDays - 1))

	a, ok := s.build(aStart, aEnd, records, smoothed)
	if !ok {
		return nil, SkipSparseWindow
	}
	b, ok := s.build(bStart, bEnd, records, smoothed)
	if !ok {
		return nil, SkipSparseWindow
	}

	// If intake itself moved materially between the windows, any rate
	// difference is attributable to a diet change, not adaptation.
	if diff := b.MeanIntake - a.MeanIntake; diff > s.intakeStability || diff < -s.intakeStability {
		return nil, SkipIntakeUnstable
	}

	return &Pair{A: a, B: b}, SkipNone
}

// build aggregates one window. It fails (ok=false) when the window lacks
// the intake density or the weight pair needed to compute a rate.
func (s *Selector) build(start, end time.Time, records []model.DailyMetricRecord, smoothed []Sample) (Window, bool) {
	w := Window{Start: start, End: end}

	var intakeSum float64
	for i := range records {
		r := &records[i]
		if r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		w.Points++
		if r.IntakeKcal != nil {
			intakeSum += *r.IntakeKcal
			w.IntakeSamples++
		}
		if r.Weight != nil {
			w.WeightSamples++
		}
		if r.AdherenceScore != nil {
			w.Adherence = append(w.Adherence, *r.AdherenceScore)
		}
	}

	if w.IntakeSamples < s.minIntakeSamples {
		return Window{}, false
	}
	w.MeanIntake = intakeSum / float64(w.IntakeSamples)

	// Rate from the first and last smoothed samples inside the window.
	var firstS, lastS *Sample
	for i := range smoothed {
		p := &smoothed[i]
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		if firstS == nil {
			firstS = p
		}
		lastS = p
	}
	if firstS == nil || lastS == nil || firstS.Date.Equal(lastS.Date) || w.WeightSamples < minRatePairs {
		return Window{}, false
	}
	days := lastS.Date.Sub(firstS.Date).Hours() / hoursPerDay
	w.Rate = (lastS.Value - firstS.Value) / days * daysPerWeek

	return w, true
}
