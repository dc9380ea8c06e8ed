package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/pkg/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeProxyRepo struct {
	records []*entity.ProxyRecord
	updates int
	nextID  int64
}

func (r *fakeProxyRepo) LoadActive(ctx context.Context) ([]*entity.ProxyRecord, error) {
	var out []*entity.ProxyRecord
	for _, rec := range r.records {
		if rec.IsActive {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeProxyRepo) List(ctx context.Context) ([]*entity.ProxyRecord, error) {
	return r.records, nil
}

func (r *fakeProxyRepo) Save(ctx context.Context, p *entity.ProxyRecord) error {
	r.nextID++
	p.ID = r.nextID
	r.records = append(r.records, p)
	return nil
}

func (r *fakeProxyRepo) Update(ctx context.Context, p *entity.ProxyRecord) error {
	r.updates++
	return nil
}

func (r *fakeProxyRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return nil
}

type fakeProber struct {
	latency time.Duration
	err     error
	calls   int
}

func (p *fakeProber) Probe(ctx context.Context, proxy *entity.ProxyRecord) (time.Duration, error) {
	p.calls++
	return p.latency, p.err
}

func proxyRecord(id int64, avgMS float64) *entity.ProxyRecord {
	return &entity.ProxyRecord{
		ID:            id,
		Address:       "10.0.0.1",
		Port:          int(8000 + id),
		Protocol:      "http",
		IsActive:      true,
		IsWorking:     true,
		AvgResponseMS: avgMS,
	}
}

func loadedPool(t *testing.T, repo *fakeProxyRepo, prober ProxyProber) *ProxyPool {
	t.Helper()
	pool := NewProxyPool(repo, prober)
	require.NoError(t, pool.Load(context.Background()))
	return pool
}

func TestProxyPool_AcquireEmpty(t *testing.T) {
	pool := loadedPool(t, &fakeProxyRepo{}, &fakeProber{})
	_, err := pool.Acquire()
	assert.ErrorIs(t, err, ErrNoProxyAvailable)
}

func TestProxyPool_AcquirePrefersLowLatency(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{
		proxyRecord(1, 100),
		proxyRecord(2, 200),
		proxyRecord(3, 5000),
		proxyRecord(4, 9000),
	}}
	pool := loadedPool(t, repo, &fakeProber{})

	// Only the three fastest records are eligible at all.
	for i := 0; i < 200; i++ {
		rec, err := pool.Acquire()
		require.NoError(t, err)
		assert.NotEqual(t, int64(4), rec.ID)
	}
}

func TestProxyPool_NeverAcquiresTripped(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{
		proxyRecord(1, 100),
		proxyRecord(2, 200),
	}}
	pool := loadedPool(t, repo, &fakeProber{})

	for i := 0; i < defaultFailThreshold; i++ {
		require.NoError(t, pool.ReportOutcome(context.Background(), 1, false, 0))
	}

	for i := 0; i < 100; i++ {
		rec, err := pool.Acquire()
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.ID)
	}
}

func TestProxyPool_TripsAtThresholdExactly(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 100)}}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	rec := pool.List()[0]
	assert.True(t, rec.IsWorking, "two consecutive failures must not trip")

	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	rec = pool.List()[0]
	assert.False(t, rec.IsWorking, "third consecutive failure must trip")
	assert.Equal(t, 3, rec.ConsecutiveFails)
}

func TestProxyPool_SuccessResetsConsecutiveFails(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 100)}}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	require.NoError(t, pool.ReportOutcome(ctx, 1, true, 150*time.Millisecond))
	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))

	rec := pool.List()[0]
	assert.True(t, rec.IsWorking, "interleaved success must break the failure run")
	assert.Equal(t, 2, rec.ConsecutiveFails)
}

func TestProxyPool_SuccessReportRestores(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 100)}}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	for i := 0; i < defaultFailThreshold; i++ {
		require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	}
	require.False(t, pool.List()[0].IsWorking)

	require.NoError(t, pool.ReportOutcome(ctx, 1, true, 150*time.Millisecond))
	assert.True(t, pool.List()[0].IsWorking)
}

func TestProxyPool_TestRestoresTripped(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 100)}}
	prober := &fakeProber{latency: 120 * time.Millisecond}
	pool := loadedPool(t, repo, prober)
	ctx := context.Background()

	for i := 0; i < defaultFailThreshold; i++ {
		require.NoError(t, pool.ReportOutcome(ctx, 1, false, 0))
	}
	require.False(t, pool.List()[0].IsWorking)

	latency, err := pool.Test(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Millisecond, latency)
	assert.Equal(t, 1, prober.calls)
	assert.True(t, pool.List()[0].IsWorking)
}

func TestProxyPool_TestFailureTrips(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 100)}}
	prober := &fakeProber{err: errors.New("connection refused")}
	pool := loadedPool(t, repo, prober)

	_, err := pool.Test(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, pool.List()[0].IsWorking)
}

func TestProxyPool_TestUnknownProxy(t *testing.T) {
	pool := loadedPool(t, &fakeProxyRepo{}, &fakeProber{})
	_, err := pool.Test(context.Background(), 42)
	assert.ErrorIs(t, err, ErrProxyNotFound)
}

func TestProxyPool_LatencyEWMA(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 0)}}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	// First observation seeds the average.
	require.NoError(t, pool.ReportOutcome(ctx, 1, true, 100*time.Millisecond))
	assert.InDelta(t, 100, pool.List()[0].AvgResponseMS, 0.001)

	// Subsequent observations blend in at the smoothing weight.
	require.NoError(t, pool.ReportOutcome(ctx, 1, true, 200*time.Millisecond))
	assert.InDelta(t, 120, pool.List()[0].AvgResponseMS, 0.001)
}

func TestProxyPool_AddAndSetActive(t *testing.T) {
	repo := &fakeProxyRepo{}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	rec := &entity.ProxyRecord{Address: "10.0.0.9", Port: 8080}
	require.NoError(t, pool.Add(ctx, rec))
	assert.Equal(t, "http", rec.Protocol)
	assert.NotZero(t, rec.ID)

	acquired, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, rec.ID, acquired.ID)

	require.NoError(t, pool.SetActive(ctx, rec.ID, false))
	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrNoProxyAvailable)
}

func TestProxyPool_SetActiveReadmitsUnloaded(t *testing.T) {
	dormant := proxyRecord(1, 100)
	dormant.IsActive = false
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{dormant}, nextID: 1}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	// Inactive at load time, so the record never entered the pool.
	_, err := pool.Acquire()
	require.ErrorIs(t, err, ErrNoProxyAvailable)

	require.NoError(t, pool.SetActive(ctx, 1, true))
	acquired, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, int64(1), acquired.ID)

	assert.ErrorIs(t, pool.SetActive(ctx, 99, true), ErrProxyNotFound)
}

func TestProxyPool_ImportList(t *testing.T) {
	repo := &fakeProxyRepo{}
	pool := loadedPool(t, repo, &fakeProber{})
	ctx := context.Background()

	imported, skipped, err := pool.ImportList(ctx, "10.0.0.1:8080\n10.0.0.2:8081:user:pass\n\nnot-a-proxy\n10.0.0.3:notaport\n10.0.0.1:8080\n")
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 3, skipped)

	records := pool.List()
	require.Len(t, records, 2)
	assert.Equal(t, "10.0.0.1", records[0].Address)
	assert.Equal(t, 8080, records[0].Port)
	assert.Equal(t, "user", records[1].Username)
	assert.Equal(t, "pass", records[1].Password)
}

func TestProxyPool_ImportListSkipsKnown(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{proxyRecord(1, 100)}, nextID: 1}
	pool := loadedPool(t, repo, &fakeProber{})

	rec := pool.List()[0]
	imported, skipped, err := pool.ImportList(context.Background(), fmt.Sprintf("%s:%d", rec.Address, rec.Port))
	require.NoError(t, err)
	assert.Zero(t, imported)
	assert.Equal(t, 1, skipped)
	assert.Len(t, pool.List(), 1)
}

func TestProxyPool_UntriedWeighsAsFastest(t *testing.T) {
	repo := &fakeProxyRepo{records: []*entity.ProxyRecord{
		proxyRecord(1, 50),
		proxyRecord(2, 50),
		proxyRecord(3, 0), // never measured
	}}
	pool := loadedPool(t, repo, &fakeProber{})

	picks := make(map[int64]int)
	for i := 0; i < 300; i++ {
		rec, err := pool.Acquire()
		require.NoError(t, err)
		picks[rec.ID]++
	}
	// An unmeasured record competes evenly rather than dominating.
	assert.Less(t, picks[3], 200, "untried record must not dwarf measured ones")
	assert.Positive(t, picks[3])
}
