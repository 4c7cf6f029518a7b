package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors. Recording helpers never fail the
// caller; this surfaces only from registry setup.
var (
	ErrObserveFailed = errors.New("metrics observe failed")
)
