package chain

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock(1000, 5)
	c.Advance(time.Hour, 300)
	assert.Equal(t, uint64(4600), c.Now())
	assert.Equal(t, uint64(305), c.BlockNumber())

	c.Set(10, 1)
	assert.Equal(t, uint64(4600), c.Now(), "time must not go backwards")
	c.Set(5000, 400)
	assert.Equal(t, uint64(400), c.BlockNumber())
}

func TestSystemClock(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	c := NewSystemClock(genesis, 12*time.Second)
	c.nowFn = func() time.Time { return genesis.Add(time.Minute) }
	assert.Equal(t, uint64(5), c.BlockNumber())
	assert.Equal(t, uint64(1_700_000_060), c.Now())

	c.nowFn = func() time.Time { return genesis.Add(-time.Minute) }
	assert.Equal(t, uint64(0), c.BlockNumber())
}

type fakeHeaders struct{ h *types.Header }

func (f *fakeHeaders) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return f.h, nil
}

func TestHeaderClock(t *testing.T) {
	src := &fakeHeaders{h: &types.Header{Number: big.NewInt(42), Time: 1_700_000_000}}
	c, err := NewHeaderClock(context.Background(), src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c.BlockNumber())

	src.h = &types.Header{Number: big.NewInt(43), Time: 1_700_000_012}
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, uint64(1_700_000_012), c.Now())
}
