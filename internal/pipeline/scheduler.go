package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules. With a lock manager each run first
// takes a distributed lock named after the job, so only one instance of a
// deployment runs it.
type Scheduler struct {
	cron    *cron.Cron
	locks   domain.LockManager
	timeout time.Duration
	logger  *slog.Logger
	names   []string
}

// NewScheduler returns a scheduler. locks may be nil. Each run is bounded by
// timeout (default one minute).
func NewScheduler(locks domain.LockManager, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		locks:   locks,
		timeout: timeout,
		logger:  logger,
	}
}

// Add schedules job under name on a standard five-field spec.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(ctx, name, job) })
	if err != nil {
		return fmt.Errorf("pipeline: schedule %s %q: %w", name, spec, err)
	}
	s.names = append(s.names, name)
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(rctx, "job:"+name, s.timeout)
		if err != nil {
			s.logger.Debug("job skipped, lock not acquired", slog.String("job", name), slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	start := time.Now()
	if err := job(rctx); err != nil {
		s.logger.Error("job failed", slog.String("job", name), slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("job done", slog.String("job", name), slog.Duration("took", time.Since(start)))
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Any("jobs", s.names))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
