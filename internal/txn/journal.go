// Package txn gives a set of in-memory components all-or-nothing call
// semantics: every participant is snapshotted before a call and restored if
// the call fails.
package txn

import (
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Participant copies its mutable state out and back in. Restore receives
// exactly the value a previous Snapshot returned.
type Participant interface {
	Snapshot() any
	Restore(snapshot any)
}

// Journal holds the participants of atomic calls.
type Journal struct {
	mu    sync.Mutex
	parts []Participant
}

// NewJournal returns a journal over the given participants.
func NewJournal(parts ...Participant) *Journal {
	return &Journal{parts: parts}
}

// Register adds a participant. Participants registered inside a failed call
// are dropped when the call rolls back.
func (j *Journal) Register(p Participant) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.parts = append(j.parts, p)
}

// Len returns the number of participants.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.parts)
}

// Atomic runs fn. If fn returns an error or panics, every participant is
// restored in reverse registration order before the error is returned or the
// panic continues.
func (j *Journal) Atomic(fn func() error) (err error) {
	j.mu.Lock()
	parts := append([]Participant(nil), j.parts...)
	j.mu.Unlock()

	snaps := make([]any, len(parts))
	for i, p := range parts {
		snaps[i] = p.Snapshot()
	}

	rollback := func() {
		for i := len(parts) - 1; i >= 0; i-- {
			parts[i].Restore(snaps[i])
		}
		j.mu.Lock()
		j.parts = j.parts[:len(parts)]
		j.mu.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		rollback()
		return err
	}
	return nil
}

// Guard rejects reentrant calls into a component.
type Guard struct {
	mu      sync.Mutex
	entered bool
}

// Enter marks the component busy or returns ErrReentrancy if it already is.
func (g *Guard) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entered {
		return domain.ErrReentrancy
	}
	g.entered = true
	return nil
}

// Exit releases the guard.
func (g *Guard) Exit() {
	g.mu.Lock()
	g.entered = false
	g.mu.Unlock()
}
