package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const defaultRunTimeout = 5 * time.Minute

var (
	errMissingReconciler = errors.New("scheduler: reconciler is required")
	errInvalidInterval   = errors.New("scheduler: interval must be positive")
)

// Reconciler repairs cached progression from the event log.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

type Config struct {
	Reconciler Reconciler
	Interval   time.Duration
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// ReconcileJob periodically rebuilds every agent's cached totals.
type ReconcileJob struct {
	reconciler Reconciler
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.Logger
	scheduler  gocron.Scheduler
}

func NewReconcileJob(cfg Config) (*ReconcileJob, error) {
	if cfg.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileJob{
		reconciler: cfg.Reconciler,
		interval:   cfg.Interval,
		runTimeout: runTimeout,
		logger:     logger,
	}, nil
}

// Start schedules the job and returns immediately. Runs never overlap.
func (j *ReconcileJob) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() {
			j.RunOnce(ctx)
		}),
		gocron.WithName("reconcile-progression"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}
	scheduler.Start()
	j.scheduler = scheduler
	j.logger.Info("reconcile job scheduled", zap.Duration("interval", j.interval))
	return nil
}

// RunOnce reconciles all agents and returns how many had drifted.
func (j *ReconcileJob) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, j.runTimeout)
	defer cancel()
	started := time.Now()
	repaired, err := j.reconciler.Reconcile(runCtx)
	if err != nil {
		j.logger.Error("reconcile run failed", zap.Error(err))
		return repaired
	}
	j.logger.Info("reconcile run finished",
		zap.Int("repaired", repaired),
		zap.Duration("elapsed", time.Since(started)))
	return repaired
}

// Shutdown stops the scheduler and waits for a running job.
func (j *ReconcileJob) Shutdown() error {
	if j.scheduler == nil {
		return nil
	}
	err := j.scheduler.Shutdown()
	j.scheduler = nil
	return err
}
