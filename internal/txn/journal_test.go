package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

type counter struct{ n int }

func (c *counter) Snapshot() any        { return c.n }
func (c *counter) Restore(snapshot any) { c.n = snapshot.(int) }

func TestAtomicCommits(t *testing.T) {
	c := &counter{}
	j := NewJournal(c)
	require.NoError(t, j.Atomic(func() error {
		c.n = 7
		return nil
	}))
	assert.Equal(t, 7, c.n)
}

func TestAtomicRollsBack(t *testing.T) {
	a, b := &counter{n: 1}, &counter{n: 2}
	j := NewJournal(a, b)
	boom := errors.New("boom")
	err := j.Atomic(func() error {
		a.n, b.n = 10, 20
		j.Register(&counter{})
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 2, b.n)
	assert.Equal(t, 2, j.Len(), "participants registered in a failed call are dropped")
}

func TestAtomicRollsBackOnPanic(t *testing.T) {
	a := &counter{n: 1}
	j := NewJournal(a)
	assert.Panics(t, func() {
		_ = j.Atomic(func() error {
			a.n = 99
			panic("bad")
		})
	})
	assert.Equal(t, 1, a.n)
}

func TestGuard(t *testing.T) {
	var g Guard
	require.NoError(t, g.Enter())
	assert.ErrorIs(t, g.Enter(), domain.ErrReentrancy)
	g.Exit()
	assert.NoError(t, g.Enter())
}
