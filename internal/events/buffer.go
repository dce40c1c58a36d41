// Package events buffers the events of a call and fans committed events
// out to sinks on a worker pool.
package events

import (
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Buffer collects events while a call runs. The router drains it after a
// commit and resets it after a rollback.
type Buffer struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewBuffer() *Buffer { return &Buffer{} }

// Record appends ev.
func (b *Buffer) Record(ev domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Reset drops the buffered events.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
