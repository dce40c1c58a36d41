package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// RateStore implements domain.RateStore using PostgreSQL. Rates are kept as
// NUMERIC and moved through pgx as decimal text.
type RateStore struct {
	pool *pgxpool.Pool
}

// NewRateStore creates a RateStore backed by pool.
func NewRateStore(pool *pgxpool.Pool) *RateStore {
	return &RateStore{pool: pool}
}

// Record stores one sample.
func (s *RateStore) Record(ctx context.Context, sample domain.RateSample) error {
	const query = `
		INSERT INTO rate_samples (source, underlying, rate, block, sampled_at)
		VALUES ($1, $2, $3::numeric, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		string(sample.Source), sample.Underlying.Hex(), domain.CloneInt(sample.Rate).String(),
		int64(sample.Block), sample.SampledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record rate %s/%s: %w", sample.Source, sample.Underlying.Hex(), err)
	}
	return nil
}

// Latest returns the newest sample for the pair.
func (s *RateStore) Latest(ctx context.Context, source domain.SourceID, underlying domain.Address) (domain.RateSample, error) {
	const query = `
		SELECT rate::text, block, sampled_at FROM rate_samples
		WHERE source = $1 AND underlying = $2
		ORDER BY sampled_at DESC LIMIT 1`

	out := domain.RateSample{Source: source, Underlying: underlying}
	var (
		rate  string
		block int64
	)
	err := s.pool.QueryRow(ctx, query, string(source), underlying.Hex()).Scan(&rate, &block, &out.SampledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RateSample{}, fmt.Errorf("rate %s/%s: %w", source, underlying.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.RateSample{}, fmt.Errorf("postgres: latest rate: %w", err)
	}
	r, ok := new(big.Int).SetString(rate, 10)
	if !ok {
		return domain.RateSample{}, fmt.Errorf("postgres: latest rate: bad numeric %q", rate)
	}
	out.Rate = r
	out.Block = uint64(block)
	return out, nil
}
