// Package worker runs the periodic detection batch.
package worker

import (
	"github.com/nutrikit/adapt/pkg/logger"
)

// Option applies a configuration option to the DetectWorker.
type Option func(*DetectWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *DetectWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *DetectWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}
