package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// StateSource produces a picture of the protocol state.
type StateSource interface {
	StateSnapshot() domain.StateSnapshot
}

// SnapshotJob archives the protocol state and refreshes the per-market
// history and cache. Any of archiver, store and cache may be nil.
type SnapshotJob struct {
	state    StateSource
	archiver domain.Archiver
	store    domain.SnapshotStore
	cache    domain.MarketViewCache
	logger   *slog.Logger
}

func NewSnapshotJob(state StateSource, archiver domain.Archiver, store domain.SnapshotStore, cache domain.MarketViewCache, logger *slog.Logger) *SnapshotJob {
	return &SnapshotJob{
		state:    state,
		archiver: archiver,
		store:    store,
		cache:    cache,
		logger:   logger.With(slog.String("component", "snapshot_job")),
	}
}

// Run takes one snapshot. Per-market failures are joined; the archive write
// is attempted first.
func (j *SnapshotJob) Run(ctx context.Context) error {
	snap := j.state.StateSnapshot()
	var errs []error

	if j.archiver != nil {
		path, err := j.archiver.ArchiveSnapshot(ctx, snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive snapshot: %w", err))
		} else {
			j.logger.Info("snapshot archived", slog.String("path", path), slog.Uint64("block", snap.Block))
		}
	}
	for _, view := range snap.Markets {
		if j.store != nil {
			if err := j.store.SaveMarket(ctx, view); err != nil {
				errs = append(errs, fmt.Errorf("save market %s: %w", view.Address.Hex(), err))
			}
		}
		if j.cache != nil {
			if err := j.cache.Set(ctx, view); err != nil {
				errs = append(errs, fmt.Errorf("cache market %s: %w", view.Address.Hex(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Restore loads the newest archived snapshot and seeds the view cache with
// its markets. It returns the snapshot so the caller can report it; a
// missing archive is not an error.
func Restore(ctx context.Context, archiver domain.Archiver, cache domain.MarketViewCache, logger *slog.Logger) (domain.StateSnapshot, bool, error) {
	snap, err := archiver.LatestSnapshot(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("no archived snapshot to restore")
		return domain.StateSnapshot{}, false, nil
	}
	if err != nil {
		return domain.StateSnapshot{}, false, fmt.Errorf("pipeline: restore: %w", err)
	}
	if cache != nil {
		for _, view := range snap.Markets {
			if err := cache.Set(ctx, view); err != nil {
				return snap, true, fmt.Errorf("pipeline: restore: cache %s: %w", view.Address.Hex(), err)
			}
		}
	}
	logger.Info("restored archived snapshot",
		slog.Uint64("block", snap.Block),
		slog.Time("taken_at", snap.TakenAt),
		slog.Int("markets", len(snap.Markets)),
		slog.Int("yield_contracts", len(snap.YieldContracts)),
	)
	return snap, true, nil
}
