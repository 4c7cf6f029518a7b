package config

import (
	"errors"
)

// Sentinel error kinds for this package. Callers branch with errors.Is:
// a load failure is an environment problem, an invalid config is a
// values problem.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
