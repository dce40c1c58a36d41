package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// StoreSink appends events to an EventStore.
type StoreSink struct {
	Store domain.EventStore
}

func (s StoreSink) Name() string { return "event_store" }

func (s StoreSink) Consume(ctx context.Context, batch []domain.Event) error {
	return s.Store.Append(ctx, batch)
}

// BusSink publishes each event on its topic channel and appends it to the
// durable event stream.
type BusSink struct {
	Bus    domain.SignalBus
	Stream string
}

func (s BusSink) Name() string { return "signal_bus" }

func (s BusSink) Consume(ctx context.Context, batch []domain.Event) error {
	for _, ev := range batch {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("events: marshal %s: %w", ev.ID, err)
		}
		if err := s.Bus.Publish(ctx, ev.Topic, payload); err != nil {
			return err
		}
		if s.Stream != "" {
			if err := s.Bus.StreamAppend(ctx, s.Stream, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// FuncSink adapts a function.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, batch []domain.Event) error
}

func (s FuncSink) Name() string { return s.SinkName }

func (s FuncSink) Consume(ctx context.Context, batch []domain.Event) error { return s.Fn(ctx, batch) }

// MemoryStore is an EventStore that keeps the most recent events in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	max    int
	events []domain.Event
}

// NewMemoryStore keeps at most max events.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 10_000
	}
	return &MemoryStore{max: max}
}

func (m *MemoryStore) Append(_ context.Context, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	if over := len(m.events) - m.max; over > 0 {
		m.events = append([]domain.Event(nil), m.events[over:]...)
	}
	return nil
}

// List returns the newest events first. An empty topic matches all.
func (m *MemoryStore) List(_ context.Context, topic string, opts domain.ListOpts) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if topic != "" && ev.Topic != topic {
			continue
		}
		if opts.Since != nil && ev.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ev.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Block > out[j].Block })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, ev := range m.events {
		if ev.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

var _ domain.EventStore = (*MemoryStore)(nil)
