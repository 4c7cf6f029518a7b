// Package trend turns a noisy, gap-ful weight series into a low-noise
// trend line and selects the trailing comparison windows the detector
// works on.
package trend

import (
	"math"
	"time"
)

// Default smoothing configuration constants.
const (
	// defaultHalfLifeDays gives daily water-weight noise a 7-day half-life.
	defaultHalfLifeDays = 7.0
)

// Sample is one dated point of a series. Dates must be normalized to UTC
// midnight (model.DateOf) before entering this package.
type Sample struct {
	Date  time.Time
	Value float64
}

// Option applies a configuration option to the Smoother.
type Option func(*Smoother)

// WithHalfLife sets the smoothing half-life in days. Smaller values track
// the raw series more closely.
func WithHalfLife(days float64) Option {
	return func(s *Smoother) {
		if days > 0 {
			s.halfLifeDays = days
		}
	}
}

// Smoother computes an exponential moving average over an irregular daily
// series. Missing days are not interpolated: the update is deferred to the
// next available sample and weighted by elapsed days, so sparse logging
// does not bias the trend.
type Smoother struct {
	halfLifeDays float64
}

// NewSmoother creates a Smoother with configuration options.
func NewSmoother(opts ...Option) *Smoother {
	s := &Smoother{
		halfLifeDays: defaultHalfLifeDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Smooth returns a same-length smoothed copy of samples, which must be
// ordered by ascending date. The first sample seeds the average.
func (s *Smoother) Smooth(samples []Sample) []Sample {
	if len(samples) == 0 {
		return nil
	}

	out := make([]Sample, len(samples))
	out[0] = samples[0]
	ema := samples[0].Value
	prev := samples[0].Date

	for i := 1; i < len(samples); i++ {
		elapsed := samples[i].Date.Sub(prev).Hours() / 24
		if elapsed < 1 {
			elapsed = 1
		}
		// Weight for a gap of N days equals N consecutive daily updates.
		w := 1 - math.Pow(2, -elapsed/s.halfLifeDays)
		ema += w * (samples[i].Value - ema)
		out[i] = Sample{Date: samples[i].Date, Value: ema}
		prev = samples[i].Date
	}
	return out
}
