// Package pipeline runs the background jobs of full mode: state snapshots,
// oracle rate sampling and event retention, each on a cron schedule.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// RetentionCron is the fixed schedule of the retention job.
const RetentionCron = "30 3 * * *"

// OrchestratorConfig holds cron specs. An empty spec disables its job.
type OrchestratorConfig struct {
	SnapshotCron   string
	RateSampleCron string
	RetentionCron  string
}

// Orchestrator manages all pipeline goroutines.
type Orchestrator struct {
	cfg       OrchestratorConfig
	scheduler *Scheduler
	snapshot  *SnapshotJob
	sampler   *RateSampler
	retention *RetentionJob
	extra     []func(ctx context.Context) error
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Nil jobs are not scheduled.
func NewOrchestrator(
	cfg OrchestratorConfig,
	scheduler *Scheduler,
	snapshot *SnapshotJob,
	sampler *RateSampler,
	retention *RetentionJob,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		scheduler: scheduler,
		snapshot:  snapshot,
		sampler:   sampler,
		retention: retention,
		logger:    logger,
	}
}

// Go adds a long-running loop that shares the orchestrator's lifetime, such
// as the websocket hub's bus follower.
func (o *Orchestrator) Go(fn func(ctx context.Context) error) {
	o.extra = append(o.extra, fn)
}

// Run schedules the jobs and runs the scheduler and extra loops under an
// errgroup. If any goroutine returns a non-context error, the errgroup
// cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.String("snapshot_cron", o.cfg.SnapshotCron),
		slog.String("rate_sample_cron", o.cfg.RateSampleCron),
		slog.String("retention_cron", o.cfg.RetentionCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	jobs := []struct {
		name string
		spec string
		job  Job
		on   bool
	}{
		{"snapshot", o.cfg.SnapshotCron, o.runSnapshot, o.snapshot != nil},
		{"rate_sample", o.cfg.RateSampleCron, o.runSampler, o.sampler != nil},
		{"retention", o.cfg.RetentionCron, o.runRetention, o.retention != nil},
	}
	for _, j := range jobs {
		if !j.on || j.spec == "" {
			continue
		}
		if err := o.scheduler.Add(ctx, j.name, j.spec, j.job); err != nil {
			return err
		}
	}

	g.Go(func() error {
		err := o.scheduler.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("scheduler: %w", err)
	})
	for _, fn := range o.extra {
		g.Go(func() error {
			err := fn(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) runSnapshot(ctx context.Context) error { return o.snapshot.Run(ctx) }
func (o *Orchestrator) runSampler(ctx context.Context) error { return o.sampler.Run(ctx) }
func (o *Orchestrator) runRetention(ctx context.Context) error { return o.retention.Run(ctx) }
