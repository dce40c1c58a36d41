package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
)

// ContractLister lists the live yield contracts.
type ContractLister interface {
	YieldContracts() []domain.YieldContractView
}

// SourceLookup resolves a yield source adapter.
type SourceLookup interface {
	Get(id domain.SourceID) (oracle.YieldSource, error)
}

// RateSampler reads the exchange rate of every (source, underlying) pair that
// has a yield contract and records it.
type RateSampler struct {
	contracts ContractLister
	sources   SourceLookup
	store     domain.RateStore
	clock     chain.Clock
	parallel  int
	logger    *slog.Logger
}

func NewRateSampler(contracts ContractLister, sources SourceLookup, store domain.RateStore, clock chain.Clock, logger *slog.Logger) *RateSampler {
	return &RateSampler{
		contracts: contracts,
		sources:   sources,
		store:     store,
		clock:     clock,
		parallel:  4,
		logger:    logger.With(slog.String("component", "rate_sampler")),
	}
}

type sampleTarget struct {
	source     domain.SourceID
	underlying domain.Address
}

func (s *RateSampler) targets() []sampleTarget {
	seen := make(map[sampleTarget]bool)
	var out []sampleTarget
	for _, c := range s.contracts.YieldContracts() {
		t := sampleTarget{source: c.Key.Source, underlying: c.Key.Underlying}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].source != out[j].source {
			return out[i].source < out[j].source
		}
		return out[i].underlying.Hex() < out[j].underlying.Hex()
	})
	return out
}

// Run samples every target in parallel. The first failure cancels the rest.
func (s *RateSampler) Run(ctx context.Context) error {
	_, err := s.Sample(ctx)
	return err
}

// Sample is Run returning the recorded samples in target order.
func (s *RateSampler) Sample(ctx context.Context) ([]domain.RateSample, error) {
	targets := s.targets()
	samples := make([]domain.RateSample, len(targets))
	block := s.clock.BlockNumber()
	at := time.Unix(int64(s.clock.Now()), 0).UTC()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, t := range targets {
		g.Go(func() error {
			src, err := s.sources.Get(t.source)
			if err != nil {
				return err
			}
			rate, err := src.ExchangeRate(gctx, t.underlying)
			if err != nil {
				return fmt.Errorf("rate %s/%s: %w", t.source, t.underlying.Hex(), err)
			}
			sample := domain.RateSample{Source: t.source, Underlying: t.underlying, Rate: rate, Block: block, SampledAt: at}
			if s.store != nil {
				if err := s.store.Record(gctx, sample); err != nil {
					return fmt.Errorf("record %s/%s: %w", t.source, t.underlying.Hex(), err)
				}
			}
			mu.Lock()
			samples[i] = sample
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: sample rates: %w", err)
	}
	s.logger.Debug("rates sampled", slog.Int("count", len(samples)), slog.Uint64("block", block))
	return samples, nil
}
