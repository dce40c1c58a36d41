package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/events"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var (
	mktA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	mktB = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	undX = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	undY = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

type fixedState struct{ snap domain.StateSnapshot }

func (s fixedState) StateSnapshot() domain.StateSnapshot { return s.snap }

func (s fixedState) YieldContracts() []domain.YieldContractView { return s.snap.YieldContracts }

type fakeArchiver struct {
	mu        sync.Mutex
	snapshots []domain.StateSnapshot
	before    []time.Time
	err       error
}

func (a *fakeArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before = append(a.before, before)
	return 2, a.err
}

func (a *fakeArchiver) ArchiveSnapshot(_ context.Context, snap domain.StateSnapshot) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.snapshots = append(a.snapshots, snap)
	return fmt.Sprintf("snapshots/%020d.json.gz", snap.Block), nil
}

func (a *fakeArchiver) LatestSnapshot(context.Context) (domain.StateSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.snapshots) == 0 {
		return domain.StateSnapshot{}, fmt.Errorf("snapshot: %w", domain.ErrNotFound)
	}
	return a.snapshots[len(a.snapshots)-1], nil
}

type viewRecorder struct {
	mu    sync.Mutex
	views map[domain.Address]domain.MarketView
	saved int
}

func newViewRecorder() *viewRecorder {
	return &viewRecorder{views: make(map[domain.Address]domain.MarketView)}
}

func (v *viewRecorder) Set(_ context.Context, view domain.MarketView) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[view.Address] = view
	return nil
}

func (v *viewRecorder) Get(_ context.Context, addr domain.Address) (domain.MarketView, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	view, ok := v.views[addr]
	if !ok {
		return domain.MarketView{}, domain.ErrNotFound
	}
	return view, nil
}

func (v *viewRecorder) Invalidate(_ context.Context, addr domain.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.views, addr)
	return nil
}

func (v *viewRecorder) SaveMarket(_ context.Context, _ domain.MarketView) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.saved++
	return nil
}

func (v *viewRecorder) ListMarket(context.Context, domain.Address, domain.ListOpts) ([]domain.MarketView, error) {
	return nil, nil
}

func testSnapshot() domain.StateSnapshot {
	return domain.StateSnapshot{
		Block:   77,
		TakenAt: time.Unix(1_700_000_000, 0).UTC(),
		Markets: []domain.MarketView{{Address: mktA, Block: 77}, {Address: mktB, Block: 77}},
		YieldContracts: []domain.YieldContractView{
			{Key: domain.YieldKey{Source: "sim", Underlying: undX, Expiry: 100}},
			{Key: domain.YieldKey{Source: "sim", Underlying: undX, Expiry: 200}},
			{Key: domain.YieldKey{Source: "sim", Underlying: undY, Expiry: 100}},
		},
	}
}

func TestSnapshotJobAndRestore(t *testing.T) {
	ctx := context.Background()
	arch := &fakeArchiver{}
	rec := newViewRecorder()
	job := NewSnapshotJob(fixedState{testSnapshot()}, arch, rec, rec, discardLogger())

	require.NoError(t, job.Run(ctx))
	require.Len(t, arch.snapshots, 1)
	assert.Equal(t, 2, rec.saved)
	assert.Len(t, rec.views, 2)

	fresh := newViewRecorder()
	snap, ok, err := Restore(ctx, arch, fresh, discardLogger())
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 77, snap.Block)
	view, err := fresh.Get(ctx, mktB)
	require.NoError(t, err)
	assert.EqualValues(t, 77, view.Block)
}

func TestRestoreWithoutArchive(t *testing.T) {
	_, ok, err := Restore(context.Background(), &fakeArchiver{}, nil, discardLogger())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotJobArchiveFailureStillCaches(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("bucket gone")}
	rec := newViewRecorder()
	job := NewSnapshotJob(fixedState{testSnapshot()}, arch, nil, rec, discardLogger())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Len(t, rec.views, 2)
}

type stepSource struct {
	mu    sync.Mutex
	rates map[domain.Address]*big.Int
	fail  bool
}

func (s *stepSource) SourceID() domain.SourceID { return "sim" }
func (s *stepSource) Family() domain.RateFamily { return domain.RateFamilyRatio }
func (s *stepSource) YieldToken(u domain.Address) (domain.Address, error) { return u, nil }

func (s *stepSource) ExchangeRate(_ context.Context, u domain.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("rpc down")
	}
	return new(big.Int).Set(s.rates[u]), nil
}

type rateRecorder struct {
	mu      sync.Mutex
	samples []domain.RateSample
}

func (r *rateRecorder) Record(_ context.Context, s domain.RateSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *rateRecorder) Latest(context.Context, domain.SourceID, domain.Address) (domain.RateSample, error) {
	return domain.RateSample{}, domain.ErrNotFound
}

func TestRateSamplerDedupesTargets(t *testing.T) {
	src := &stepSource{rates: map[domain.Address]*big.Int{undX: big.NewInt(11), undY: big.NewInt(22)}}
	table, err := oracle.NewTable(src)
	require.NoError(t, err)
	store := &rateRecorder{}
	clock := chain.NewManualClock(1_700_000_000, 9)

	sampler := NewRateSampler(fixedState{testSnapshot()}, table, store, clock, discardLogger())
	samples, err := sampler.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, undX, samples[0].Underlying)
	assert.Equal(t, "11", samples[0].Rate.String())
	assert.Equal(t, "22", samples[1].Rate.String())
	assert.EqualValues(t, 9, samples[1].Block)
	assert.Len(t, store.samples, 2)

	src.mu.Lock()
	src.fail = true
	src.mu.Unlock()
	require.Error(t, sampler.Run(context.Background()))
}

func TestRetentionJob(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	store := events.NewMemoryStore(100)
	old := domain.NewEvent(domain.EventSwap, "market:x", mktA, 1, uint64(now.Add(-100*24*time.Hour).Unix()))
	recent := domain.NewEvent(domain.EventSwap, "market:x", mktA, 2, uint64(now.Add(-time.Hour).Unix()))
	require.NoError(t, store.Append(ctx, []domain.Event{old, recent}))

	arch := &fakeArchiver{}
	job := NewRetentionJob(arch, store, 90, discardLogger())
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(ctx))

	require.Len(t, arch.before, 1)
	assert.Equal(t, now.Add(-90*24*time.Hour), arch.before[0])
	left, err := store.List(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.EqualValues(t, 2, left[0].Block)
}

func TestRetentionKeepsEventsWhenArchiveFails(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemoryStore(100)
	require.NoError(t, store.Append(ctx, []domain.Event{domain.NewEvent(domain.EventSwap, "t", mktA, 1, 1)}))

	job := NewRetentionJob(&fakeArchiver{err: errors.New("s3 down")}, store, 1, discardLogger())
	require.Error(t, job.Run(ctx))
	left, _ := store.List(ctx, "", domain.ListOpts{})
	assert.Len(t, left, 1)
}

type denyLocks struct{ calls int }

func (d *denyLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	d.calls++
	return nil, domain.ErrLockHeld
}

func TestSchedulerLockAndCronSpec(t *testing.T) {
	locks := &denyLocks{}
	s := NewScheduler(locks, time.Second, discardLogger())
	ran := false
	s.run(context.Background(), "snapshot", func(context.Context) error { ran = true; return nil })
	assert.False(t, ran)
	assert.Equal(t, 1, locks.calls)

	free := NewScheduler(nil, time.Second, discardLogger())
	free.run(context.Background(), "snapshot", func(context.Context) error { ran = true; return nil })
	assert.True(t, ran)

	require.Error(t, free.Add(context.Background(), "bad", "every tuesday", func(context.Context) error { return nil }))
	require.NoError(t, free.Add(context.Background(), "ok", "*/5 * * * *", func(context.Context) error { return nil }))
}

func TestOrchestratorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	followed := make(chan struct{})
	o := NewOrchestrator(OrchestratorConfig{SnapshotCron: "0 * * * *"},
		NewScheduler(nil, time.Second, discardLogger()),
		NewSnapshotJob(fixedState{testSnapshot()}, nil, nil, nil, discardLogger()),
		nil, nil, discardLogger())
	o.Go(func(ctx context.Context) error {
		close(followed)
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-followed
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
