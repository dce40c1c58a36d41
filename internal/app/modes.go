package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldmarket/internal/pipeline"
	"github.com/alanyoungcy/yieldmarket/internal/server"
	"github.com/alanyoungcy/yieldmarket/internal/server/handler"
	"github.com/alanyoungcy/yieldmarket/internal/server/ws"
)

const (
	shutdownTimeout = 5 * time.Second
	jobTimeout      = 2 * time.Minute
)

// APIMode serves the HTTP API and websocket hub over in-memory state.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startClock(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// FullMode adds the stores, the bus-following hub and the background jobs.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if a.cfg.Archive.RestoreOnStart && deps.Archiver != nil {
		if _, _, err := pipeline.Restore(ctx, deps.Archiver, deps.ViewCache, a.logger); err != nil {
			a.logger.WarnContext(ctx, "full mode: snapshot restore failed",
				slog.String("error", err.Error()),
			)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startClock(ctx, g, deps)

	var sampler *pipeline.RateSampler
	if deps.RateStore != nil {
		sampler = pipeline.NewRateSampler(deps.Router, deps.Sources, deps.RateStore, deps.Clock, a.logger)
	}
	var retention *pipeline.RetentionJob
	if a.cfg.Archive.EventRetentionDays > 0 {
		retention = pipeline.NewRetentionJob(deps.Archiver, deps.EventStore, a.cfg.Archive.EventRetentionDays, a.logger)
	}
	orch := pipeline.NewOrchestrator(
		pipeline.OrchestratorConfig{
			SnapshotCron:   a.cfg.Archive.SnapshotCron,
			RateSampleCron: a.cfg.Archive.RateSampleCron,
			RetentionCron:  pipeline.RetentionCron,
		},
		pipeline.NewScheduler(deps.LockManager, jobTimeout, a.logger),
		pipeline.NewSnapshotJob(deps.Router, deps.Archiver, deps.SnapshotStore, deps.ViewCache, a.logger),
		sampler,
		retention,
		a.logger,
	)
	if deps.SignalBus != nil {
		orch.Go(func(ctx context.Context) error {
			return deps.Hub.Follow(ctx, deps.SignalBus, ws.BusChannels)
		})
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// SimulateMode runs the scripted scenario on the manual clock and returns.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.Int("days", a.cfg.Simulate.Days),
		slog.Int("markets", len(deps.Simulated)),
	)
	results, err := NewSimulation(deps, a.cfg.Simulate, a.cfg.Chain.BlockTime.Duration, a.logger).Run(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "simulation finished",
		slog.Int("settled", len(results)),
		slog.Int("markets", len(deps.Router.Markets())),
	)
	return nil
}

// startClock follows the chain head when the clock reads from a node.
func (a *App) startClock(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.HeaderClock == nil {
		return
	}
	g.Go(func() error {
		err := deps.HeaderClock.Run(ctx, a.cfg.Chain.PollInterval.Duration)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startHTTPServer adds the HTTP server and websocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(
		server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			ReadTimeout:   a.cfg.Server.ReadTimeout.Duration,
			WriteTimeout:  a.cfg.Server.WriteTimeout.Duration,
			SignatureAuth: a.cfg.Server.SignatureAuth,
			RateLimit:     a.cfg.Server.RateLimit,
			RateWindow:    time.Minute,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(deps.Clock, a.cfg.Mode).WithChecks(deps.Checks),
			Markets:  handler.NewMarketHandler(deps.Router, a.logger).WithArchive(deps.ViewCache),
			Yield:    handler.NewYieldHandler(deps.Router, a.logger),
			Registry: handler.NewRegistryHandler(deps.Router, a.logger),
			Tokens:   handler.NewTokenHandler(deps.Router, a.logger),
			Events:   handler.NewEventHandler(deps.EventStore, a.logger),
		},
		deps.Hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		if err := deps.Hub.Run(ctx); ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
