package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// RetentionJob moves events older than the retention window to cold storage
// and then deletes them from the hot store.
type RetentionJob struct {
	archiver      domain.Archiver
	events        domain.EventStore
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewRetentionJob creates a RetentionJob. A nil archiver deletes without
// archiving.
func NewRetentionJob(archiver domain.Archiver, events domain.EventStore, retentionDays int, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		archiver:      archiver,
		events:        events,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "retention_job")),
	}
}

// Run executes a single retention pass.
func (j *RetentionJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().UTC().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	j.logger.Info("starting retention run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	var archived int64
	if j.archiver != nil {
		n, err := j.archiver.ArchiveEvents(ctx, cutoff)
		if err != nil {
			// Nothing is deleted unless the archive was written.
			return fmt.Errorf("archiving events before %v: %w", cutoff, err)
		}
		archived = n
	}

	deleted, err := j.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("deleting events before %v: %w", cutoff, err)
	}

	j.logger.Info("retention run complete",
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
	)
	return nil
}
