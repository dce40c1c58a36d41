package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a committed batch. Events already stored under the same ID
// are skipped.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	const query = `
		INSERT INTO events (id, type, topic, actor, block, amounts, attrs, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, ev := range events {
		amounts, attrs, err := encodeEventMaps(ev)
		if err != nil {
			return err
		}
		batch.Queue(query, ev.ID, string(ev.Type), ev.Topic, ev.Actor.Hex(),
			int64(ev.Block), amounts, attrs, ev.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns events newest first. An empty topic matches every topic.
func (s *EventStore) List(ctx context.Context, topic string, opts domain.ListOpts) ([]domain.Event, error) {
	q := newListQuery(`SELECT id, type, topic, actor, block, amounts, attrs, occurred_at FROM events WHERE 1=1`)
	if topic != "" {
		q.sb.WriteString(" AND topic = " + q.next(topic))
	}
	q.window("occurred_at", opts)
	q.page("block DESC, occurred_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev             domain.Event
			typ, actor     string
			block          int64
			amounts, attrs []byte
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Topic, &actor, &block, &amounts, &attrs, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Actor = common.HexToAddress(actor)
		ev.Block = uint64(block)
		if err := decodeEventMaps(&ev, amounts, attrs); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes events that occurred before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Amounts are stored as decimal strings so that jsonb never rounds them.
func encodeEventMaps(ev domain.Event) ([]byte, []byte, error) {
	amounts := make(map[string]string, len(ev.Amounts))
	for k, v := range ev.Amounts {
		amounts[k] = domain.CloneInt(v).String()
	}
	a, err := json.Marshal(amounts)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal event amounts: %w", err)
	}
	attrs := ev.Attrs
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal event attrs: %w", err)
	}
	return a, b, nil
}

func decodeEventMaps(ev *domain.Event, amounts, attrs []byte) error {
	raw := map[string]string{}
	if len(amounts) > 0 {
		if err := json.Unmarshal(amounts, &raw); err != nil {
			return fmt.Errorf("postgres: unmarshal event amounts: %w", err)
		}
	}
	ev.Amounts = make(map[string]*big.Int, len(raw))
	for k, v := range raw {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return fmt.Errorf("postgres: event %s amount %s: bad integer %q", ev.ID, k, v)
		}
		ev.Amounts[k] = n
	}
	ev.Attrs = map[string]string{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &ev.Attrs); err != nil {
			return fmt.Errorf("postgres: unmarshal event attrs: %w", err)
		}
	}
	return nil
}
