package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nutrikit/adapt/internal/adapters/http/api"
	"github.com/nutrikit/adapt/internal/adapters/mq/queue"
	"github.com/nutrikit/adapt/internal/adapters/mq/worker"
	"github.com/nutrikit/adapt/internal/adapters/repository"
	"github.com/nutrikit/adapt/internal/app"
	"github.com/nutrikit/adapt/internal/config"
	"github.com/nutrikit/adapt/internal/domain/detect"
	"github.com/nutrikit/adapt/internal/domain/guard"
	"github.com/nutrikit/adapt/internal/domain/model"
	"github.com/nutrikit/adapt/internal/domain/trend"
	"github.com/nutrikit/adapt/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// service bundles the engine with the job queue to satisfy the API
// dependency surface.
type service struct {
	*app.Engine
	jobs queue.Queue
}

func (s *service) Enqueue(ctx context.Context, job model.DetectionJob) bool {
	return s.jobs.Enqueue(ctx, job)
}

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Persistence: SQLite when a path is configured, in-memory otherwise.
	var store repository.Store
	if cfg.DBPath != "" {
		db, err := repository.OpenSQLite(cfg.DBPath)
		if err != nil {
			os.Stderr.WriteString("failed to open database: " + err.Error() + "\n")
			return
		}
		defer func() { _ = db.Close() }()
		store = db
		log.Info(ctx, "using sqlite store", logger.String("path", cfg.DBPath))
	} else {
		store = repository.NewMemStore()
		log.Warn(ctx, "no db_path configured; state will not survive restarts")
	}

	engine := app.New(store,
		app.WithLogger(log.Named("engine")),
		app.WithSmoother(trend.NewSmoother(
			trend.WithHalfLife(cfg.EMAHalfLifeDays),
		)),
		app.WithSelector(trend.NewSelector(
			trend.WithWindowDays(cfg.WindowDays),
			trend.WithWindowGap(cfg.WindowGapDays),
			trend.WithMinHistory(cfg.MinHistoryDays),
			trend.WithMinIntakeSamples(cfg.MinIntakeSamples),
			trend.WithIntakeStability(cfg.IntakeStabilityKcal),
		)),
		app.WithDetector(detect.New(
			detect.WithMinRelativeChange(cfg.MinDetectableChange),
			detect.WithMagnitudeBounds(cfg.MagnitudeFloor, cfg.MagnitudeCeiling),
			detect.WithCalorieBounds(cfg.MinDailyCalories, cfg.MaxDailyCalories),
		)),
		app.WithGuard(guard.New(
			guard.WithIntakeFloor(cfg.IntakeFloorKcal),
			guard.WithIntakeLookback(cfg.IntakeLookbackDays),
			guard.WithMaxLossRate(cfg.MaxLossRate),
			guard.WithLossSustainDays(cfg.LossSustainDays),
			guard.WithMinConfidence(cfg.VetoConfidence),
		)),
		app.WithHistoryDays(cfg.HistoryDays),
		app.WithRollbackWindow(time.Duration(cfg.RollbackWindowHours)*time.Hour),
		app.WithAutoApplyMinConfidence(cfg.AutoApplyConfidence),
	)

	// Detection job queue and worker pool.
	jobs := queue.NewInMemoryQueue(queue.WithCapacity(cfg.DetectionQueueSize))
	pool := worker.NewPool(cfg.WorkerCount, jobs, engine)
	pool.Start(ctx)
	defer func() {
		if err := pool.Shutdown(context.Background()); err != nil {
			log.Error(ctx, "worker pool shutdown failed", logger.Error(err))
		}
	}()

	// Periodic detection sweeps over every known user.
	scheduler := worker.NewScheduler(engine, jobs,
		worker.WithInterval(time.Duration(cfg.DetectIntervalHours)*time.Hour),
		worker.WithSchedulerLogger(log.Named("scheduler")),
	)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// HTTP mux and routes.
	mux := http.NewServeMux()
	apiServer := api.NewServer(&service{Engine: engine, jobs: jobs}, engine)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}
