package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Sink consumes committed events. A sink error is logged and never reaches
// the call that produced the events.
type Sink interface {
	Name() string
	Consume(ctx context.Context, batch []domain.Event) error
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SinkTimeout time.Duration
}

// Dispatcher fans batches of events out to every sink, one pool task per
// sink and batch.
type Dispatcher struct {
	pool    pond.Pool
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewDispatcher starts the worker pool.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	return &Dispatcher{
		pool:    pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.QueueSize)),
		timeout: cfg.SinkTimeout,
		logger:  logger.With(slog.String("component", "event_dispatcher")),
		sinks:   sinks,
	}
}

// AddSink registers another sink for future batches.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Publish hands batch to every sink. It does not wait for delivery.
func (d *Dispatcher) Publish(batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	for _, s := range sinks {
		err := d.pool.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := s.Consume(ctx, batch); err != nil {
				d.logger.Warn("sink failed",
					slog.String("sink", s.Name()),
					slog.Int("events", len(batch)),
					slog.String("error", err.Error()),
				)
			}
		})
		if err != nil {
			d.logger.Warn("event batch dropped",
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close waits for queued deliveries and stops the pool.
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}
