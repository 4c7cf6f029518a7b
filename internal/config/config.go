// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - All future functions must accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath points at the SQLite database file. Empty selects the
	// in-memory store, which loses state on restart.
	DBPath string `koanf:"db_path"`

	// DetectionQueueSize bounds the in-memory detection job queue.
	DetectionQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of detection workers.
	WorkerCount int `koanf:"worker_count"`

	// DetectIntervalHours sets the cadence of scheduled detection sweeps.
	DetectIntervalHours int `koanf:"detect_interval_hours"`

	// HistoryDays sets how far back detection reads metric history.
	HistoryDays int `koanf:"history_days"`

	// EMAHalfLifeDays controls trend smoothing responsiveness.
	EMAHalfLifeDays float64 `koanf:"ema_half_life_days"`

	// WindowDays and WindowGapDays shape the comparison windows:
	// each spans WindowDays, their ends sit WindowGapDays apart.
	WindowDays     int `koanf:"window_days"`
	WindowGapDays  int `koanf:"window_gap_days"`
	MinHistoryDays int `koanf:"min_history_days"`

	// MinIntakeSamples is the intake density floor per window;
	// IntakeStabilityKcal is the max mean-intake drift between windows.
	MinIntakeSamples    int     `koanf:"min_intake_samples"`
	IntakeStabilityKcal float64 `koanf:"intake_stability_kcal"`

	// MinDetectableChange is the relative rate slowdown that counts as
	// adaptation.
	MinDetectableChange float64 `koanf:"min_detectable_change"`

	// MagnitudeFloor and MagnitudeCeiling bound the applied adjustment.
	MagnitudeFloor   float64 `koanf:"magnitude_floor"`
	MagnitudeCeiling float64 `koanf:"magnitude_ceiling"`

	// MinDailyCalories and MaxDailyCalories hard-clamp any proposed target.
	MinDailyCalories int `koanf:"min_daily_calories"`
	MaxDailyCalories int `koanf:"max_daily_calories"`

	// IntakeFloorKcal, IntakeLookbackDays, MaxLossRate, and
	// LossSustainDays parameterize the safety guard; VetoConfidence is
	// its minimum-confidence cutoff.
	IntakeFloorKcal    float64 `koanf:"intake_floor_kcal"`
	IntakeLookbackDays int     `koanf:"intake_lookback_days"`
	MaxLossRate        float64 `koanf:"max_loss_rate"`
	LossSustainDays    int     `koanf:"loss_sustain_days"`
	VetoConfidence     float64 `koanf:"veto_confidence"`

	// AutoApplyConfidence gates trusted auto-apply for opted-in users.
	AutoApplyConfidence float64 `koanf:"auto_apply_confidence"`

	// RollbackWindowHours sets how long an applied proposal stays
	// reversible.
	RollbackWindowHours int `koanf:"rollback_window_hours"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use and is
// currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		DetectionQueueSize:  10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DetectIntervalHours: 7 * 24,
		HistoryDays:         60,
		EMAHalfLifeDays:     7,
		WindowDays:          7,
		WindowGapDays:       14,
		MinHistoryDays:      21,
		MinIntakeSamples:    4,
		IntakeStabilityKcal: 200,
		MinDetectableChange: 0.15,
		MagnitudeFloor:      0.10,
		MagnitudeCeiling:    0.25,
		MinDailyCalories:    1200,
		MaxDailyCalories:    5000,
		IntakeFloorKcal:     1000,
		IntakeLookbackDays:  7,
		MaxLossRate:         2.5,
		LossSustainDays:     21,
		VetoConfidence:      0.7,
		AutoApplyConfidence: 0.85,
		RollbackWindowHours: 24,
	}
}
