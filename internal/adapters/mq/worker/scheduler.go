package worker

import (
	"context"
	"time"

	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/pkg/logger"
	"github.com/nutrikit/adapt/pkg/metrics"
)

// defaultDetectInterval matches the weekly cadence detection is meant to
// run at; tests and dev mode shorten it.
const defaultDetectInterval = 7 * 24 * time.Hour

// UserLister supplies the users to sweep on each tick.
type UserLister interface {
	UserIDs(ctx context.Context) ([]string, error)
}

// JobQueue is the enqueue side the scheduler feeds.
type JobQueue interface {
	Enqueue(ctx context.Context, j Job) bool
}

// SchedulerOption applies a configuration option to the Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets a custom logger for the scheduler.
func WithSchedulerLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler enqueues one detection job per user on a fixed interval. The
// per-user work is embarrassingly parallel; the scheduler only fans out.
type Scheduler struct {
	users    UserLister
	queue    JobQueue
	interval time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewScheduler creates a Scheduler with configuration options.
func NewScheduler(users UserLister, queue JobQueue, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		users:    users,
		queue:    queue,
		interval: defaultDetectInterval,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the sweep loop. The first sweep runs after one full
// interval; call Sweep directly for an immediate pass.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep enqueues a detection job for every known user.
func (s *Scheduler) Sweep(ctx context.Context) {
	ids, err := s.users.UserIDs(ctx)
	if err != nil {
		s.logger.Error(ctx, "listing users for sweep failed", logger.Error(err))
		return
	}
	metrics.UpdateUsersTracked(len(ids))

	now := time.Now()
	enqueued := 0
	for _, id := range ids {
		if s.queue.Enqueue(ctx, model.DetectionJob{UserID: id, EnqueuedAt: now}) {
			enqueued++
		}
	}

	s.logger.Info(ctx, "detection sweep enqueued",
		logger.Int("users", len(ids)),
		logger.Int("enqueued", enqueued),
	)
}

// Stop halts the sweep loop.
func (s *Scheduler) Stop() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	<-s.done
}
