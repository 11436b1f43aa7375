package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-history-intelligence/internal/histdb"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
)

func poolConfig() Config {
	return Config{
		InitialRange:      1000 * 24 * time.Hour,
		TargetPrecision:   24 * time.Hour,
		MaxTests:          25,
		WallClockBudget:   10 * time.Second,
		ProbeTimeout:      time.Second,
		ProbeAttempts:     2,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
	}
}

func startedPool(t *testing.T, p probe.MarketDataProbe, store histdb.CutoffStorer, workers int) *WorkerPool {
	t.Helper()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pool := NewWorkerPool(fixedEngine(poolConfig(), now), p, store, workers, testLogger())
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})
	return pool
}

func TestWorkerPoolDiscoversAndPersists(t *testing.T) {
	trueCutoff := time.Date(2023, 3, 20, 0, 0, 0, 0, time.UTC)

	p := probe.NewSyntheticProbe().SetCutoff("BINANCE_BTC_USDT", trueCutoff)
	store := histdb.NewMemoryDatabase()
	require.NoError(t, store.Initialize(context.Background()))
	defer store.Close()

	pool := startedPool(t, p, store, 2)

	done := make(chan JobResult, 1)
	jobID, err := pool.Submit(context.Background(), "BINANCE_BTC_USDT", func(r JobResult) { done <- r })
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	var result JobResult
	select {
	case result = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("discovery job did not finish")
	}

	require.NoError(t, result.Err)
	require.True(t, result.Result.Success, "message: %s", result.Result.Message)
	assert.Equal(t, jobID, result.Job.ID)
	assert.Equal(t, histdb.StoreCreated, result.Outcome)

	record, err := store.GetCutoff(context.Background(), "BINANCE_BTC_USDT")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.WithinDuration(t, trueCutoff, record.CutoffDate, 24*time.Hour)
}

func TestWorkerPoolDiscoverAll(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	p := probe.NewSyntheticProbe()
	tags := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		tag := fmt.Sprintf("BINANCE_ASSET%d_USDT", i)
		tags = append(tags, tag)
		p.SetCutoff(tag, base.AddDate(0, i, 0))
	}

	store := histdb.NewMemoryDatabase()
	require.NoError(t, store.Initialize(context.Background()))
	defer store.Close()

	pool := startedPool(t, p, store, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, err := pool.DiscoverAll(ctx, tags)
	require.NoError(t, err)
	require.Len(t, results, len(tags))

	for _, r := range results {
		require.NoError(t, r.Err)
		assert.True(t, r.Result.Success, "market %s: %s", r.Job.MarketTag, r.Result.Message)
		assert.Equal(t, histdb.StoreCreated, r.Outcome)
	}

	all, err := store.GetAllCutoffs(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(tags))

	stats := pool.GetStats()
	assert.Equal(t, int64(len(tags)), stats.CompletedJobs)
	assert.Zero(t, stats.FailedJobs)
	assert.Positive(t, stats.AvgJobDuration)
}

func TestWorkerPoolFirstWriteWinsAcrossJobs(t *testing.T) {
	trueCutoff := time.Date(2023, 3, 20, 0, 0, 0, 0, time.UTC)
	p := probe.NewSyntheticProbe().SetDefaultCutoff(trueCutoff)

	store := histdb.NewMemoryDatabase()
	require.NoError(t, store.Initialize(context.Background()))
	defer store.Close()

	pool := startedPool(t, p, store, 4)

	const runs = 4
	var wg sync.WaitGroup
	outcomes := make(chan histdb.StoreOutcome, runs)
	wg.Add(runs)
	for i := 0; i < runs; i++ {
		_, err := pool.Submit(context.Background(), "BINANCE_ETH_USDT", func(r JobResult) {
			defer wg.Done()
			outcomes <- r.Outcome
		})
		require.NoError(t, err)
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for outcome := range outcomes {
		if outcome == histdb.StoreCreated {
			created++
		} else {
			assert.Equal(t, histdb.StoreAlreadyExists, outcome)
		}
	}
	assert.Equal(t, 1, created, "exactly one run may create the record")
}

func TestWorkerPoolSubmitRejectsMalformedTag(t *testing.T) {
	pool := startedPool(t, probe.NewSyntheticProbe(), nil, 1)

	_, err := pool.Submit(context.Background(), "not a tag", nil)
	require.Error(t, err)
	assert.Zero(t, pool.GetStats().QueuedJobs)
}

func TestWorkerPoolStopFailsQueuedJobs(t *testing.T) {
	trueCutoff := time.Date(2023, 3, 20, 0, 0, 0, 0, time.UTC)
	p := probe.NewSyntheticProbe().SetDefaultCutoff(trueCutoff).WithLatency(30 * time.Millisecond)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pool := NewWorkerPool(fixedEngine(poolConfig(), now), p, nil, 1, testLogger())
	require.NoError(t, pool.Start(context.Background()))

	const jobs = 3
	results := make(chan JobResult, jobs)
	for i := 0; i < jobs; i++ {
		_, err := pool.Submit(context.Background(), fmt.Sprintf("BINANCE_ASSET%d_USDT", i),
			func(r JobResult) { results <- r })
		require.NoError(t, err)
	}

	// let the single worker pick up the first job before stopping
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	for i := 0; i < jobs; i++ {
		select {
		case r := <-results:
			if r.Err != nil {
				assert.ErrorContains(t, r.Err, "shutting down")
			}
		case <-time.After(time.Second):
			t.Fatalf("callback %d never fired: jobs queued at shutdown must be failed", i+1)
		}
	}
}

func TestWorkerPoolLifecycle(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pool := NewWorkerPool(fixedEngine(poolConfig(), now), probe.NewSyntheticProbe(), nil, 2, testLogger())

	_, err := pool.Submit(context.Background(), "BINANCE_BTC_USDT", nil)
	require.Error(t, err, "submit before start must fail")

	require.NoError(t, pool.Start(context.Background()))
	require.Error(t, pool.Start(context.Background()), "double start must fail")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))
	require.Error(t, pool.Stop(ctx), "double stop must fail")
}
