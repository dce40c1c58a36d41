package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists committed events.
type EventStore interface {
	Append(ctx context.Context, events []Event) error
	List(ctx context.Context, topic string, opts ListOpts) ([]Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SnapshotStore persists periodic market snapshots.
type SnapshotStore interface {
	SaveMarket(ctx context.Context, view MarketView) error
	ListMarket(ctx context.Context, market Address, opts ListOpts) ([]MarketView, error)
}

// RateStore persists sampled oracle rates.
type RateStore interface {
	Record(ctx context.Context, sample RateSample) error
	Latest(ctx context.Context, source SourceID, underlying Address) (RateSample, error)
}
