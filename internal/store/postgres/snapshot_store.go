package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// SaveMarket stores one market view.
func (s *SnapshotStore) SaveMarket(ctx context.Context, view domain.MarketView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("postgres: marshal market view: %w", err)
	}
	const query = `INSERT INTO market_snapshots (market, block, taken_at, view) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, view.Address.Hex(), int64(view.Block), view.UpdatedAt, data); err != nil {
		return fmt.Errorf("postgres: save market snapshot %s: %w", view.Address.Hex(), err)
	}
	return nil
}

// ListMarket returns the stored views of one market, newest first.
func (s *SnapshotStore) ListMarket(ctx context.Context, market domain.Address, opts domain.ListOpts) ([]domain.MarketView, error) {
	q := newListQuery(`SELECT view FROM market_snapshots WHERE market = $1`, market.Hex())
	q.window("taken_at", opts)
	q.page("taken_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market snapshots: %w", err)
	}
	defer rows.Close()

	var views []domain.MarketView
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan market snapshot: %w", err)
		}
		var v domain.MarketView
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal market snapshot: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}
