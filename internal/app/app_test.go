package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/cache/memory"
	"github.com/alanyoungcy/yieldmarket/internal/config"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/events"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func wire(t *testing.T, mode string) *Dependencies {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = mode
	require.NoError(t, cfg.Validate())
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return deps
}

func TestWireAPIMode(t *testing.T) {
	deps := wire(t, "api")

	assert.Nil(t, deps.ManualClock)
	assert.Nil(t, deps.HeaderClock)
	assert.IsType(t, &memory.MarketViewCache{}, deps.ViewCache)
	assert.IsType(t, &events.MemoryStore{}, deps.EventStore)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)

	assert.ElementsMatch(t, []domain.SourceID{"aave", "compound"}, deps.Router.Sources())
	assert.Len(t, deps.Simulated, 2)
	for _, m := range deps.Simulated {
		assert.True(t, deps.Bank.Exists(m.Wrapped))
		assert.Equal(t, 1, m.Growth.Cmp(rmath.One()))
	}
	_, err := deps.Sources.Get("compound")
	require.NoError(t, err)
}

func TestWireRejectsForeignKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Governance.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	_, _, err := Wire(context.Background(), &cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "governance")
}

func TestSimulation(t *testing.T) {
	deps := wire(t, "simulate")
	cfg := config.Defaults().Simulate

	results, err := NewSimulation(deps, cfg, 0, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Positive(t, res.Tokenized.Sign(), "%s tokenized", res.Source)
		assert.Positive(t, res.YieldBought.Sign(), "%s bought", res.Source)
		assert.Positive(t, res.TraderInterest.Sign(), "%s trader interest", res.Source)
		assert.Positive(t, res.Principal.Sign(), "%s principal", res.Source)
		assert.Zero(t, res.Expiry%86400)
		assert.NotEmpty(t, res.FinalSpot)
	}
	assert.Len(t, deps.Router.Markets(), 2)
}

func TestSimulationNeedsManualClock(t *testing.T) {
	deps := wire(t, "api")
	_, err := NewSimulation(deps, config.Defaults().Simulate, 0, discardLogger()).Run(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidParams)
}

func TestRunSimulateMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "simulate"
	cfg.Simulate.Days = 10
	a := New(&cfg, discardLogger())
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))
}
