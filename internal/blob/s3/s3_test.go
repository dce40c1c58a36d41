package s3blob

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/events"
)

// memBlobs is an in-memory bucket.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, events.NewMemoryStore(0), nil)

	_, err := a.LatestSnapshot(ctx)
	require.True(t, errors.Is(err, domain.ErrNotFound))

	for _, block := range []uint64{9, 120, 30} {
		_, err := a.ArchiveSnapshot(ctx, domain.StateSnapshot{
			Block:   block,
			TakenAt: time.Unix(int64(block), 0).UTC(),
			Markets: []domain.MarketView{{Address: common.HexToAddress("0x1"), Block: block}},
		})
		require.NoError(t, err)
	}

	snap, err := a.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), snap.Block)
	require.Len(t, snap.Markets, 1)
}

func TestArchiveSnapshotSkipsArchivedBlock(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, events.NewMemoryStore(0), nil)

	first := domain.StateSnapshot{Block: 7, Markets: []domain.MarketView{{Address: common.HexToAddress("0x1"), Block: 7}}}
	path, err := a.ArchiveSnapshot(ctx, first)
	require.NoError(t, err)

	again, err := a.ArchiveSnapshot(ctx, domain.StateSnapshot{Block: 7})
	require.NoError(t, err)
	assert.Equal(t, path, again)

	snap, err := a.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Markets, 1)
}

func TestArchiveEvents(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemoryStore(0)
	var batch []domain.Event
	for i := uint64(1); i <= 5; i++ {
		batch = append(batch, domain.NewEvent(domain.EventSwap, "market:x", common.HexToAddress("0x1"), i, 1000*i))
	}
	require.NoError(t, store.Append(ctx, batch))

	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, store, nil)

	n, err := a.ArchiveEvents(ctx, time.Unix(3500, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	path := eventArchivePath(time.Unix(3500, 0))
	body, err := blobs.Get(ctx, path)
	require.NoError(t, err)
	zr, err := gzip.NewReader(body)
	require.NoError(t, err)
	var lines int
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		assert.Less(t, ev.Block, uint64(4))
		lines++
	}
	assert.Equal(t, 3, lines)

	n, err = a.ArchiveEvents(ctx, time.Unix(10, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "snapshots/00000000000000000042.json.gz", snapshotPath(42))
	assert.Less(t, snapshotPath(9), snapshotPath(10))
	assert.Equal(t, "archive/events/2025-01-31T000000Z.jsonl.gz",
		eventArchivePath(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "https://s3.example", normaliseEndpoint("s3.example", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestPrefixedKeys(t *testing.T) {
	for _, prefix := range []string{"yieldmarket/prod", "/yieldmarket/prod/"} {
		c := &Client{prefix: normalisePrefix(prefix)}
		key := c.key(snapshotPath(42))
		assert.Equal(t, "yieldmarket/prod/snapshots/00000000000000000042.json.gz", key)
		assert.Equal(t, snapshotPath(42), c.path(key))
	}
	bare := &Client{prefix: normalisePrefix("")}
	assert.Equal(t, snapshotPath(42), bare.key(snapshotPath(42)))
}
