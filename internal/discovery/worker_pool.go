package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-history-intelligence/internal/histdb"
	"github.com/johnayoung/go-history-intelligence/internal/models"
	"github.com/johnayoung/go-history-intelligence/internal/probe"
)

// DiscoveryJob identifies one queued discovery run.
type DiscoveryJob struct {
	ID        string
	MarketTag string
	Submitted time.Time
}

// JobResult is delivered to the submitter's callback when a discovery
// job finishes. Err is set only for infrastructure failures (pool
// shutdown, persistence); a non-converged run is reported through
// Result.Success like any other.
type JobResult struct {
	Job     DiscoveryJob
	Result  models.CutoffResult
	Outcome histdb.StoreOutcome
	Err     error
}

// PoolStats is a snapshot of worker pool counters.
type PoolStats struct {
	ActiveWorkers  int
	QueuedJobs     int
	CompletedJobs  int64
	FailedJobs     int64
	AvgJobDuration time.Duration
}

type poolJob struct {
	job      DiscoveryJob
	callback func(JobResult)
	ctx      context.Context
}

type poolStats struct {
	activeWorkers int32
	queuedJobs    int32
	completedJobs int64
	failedJobs    int64
	totalJobTime  int64 // nanoseconds
	jobCount      int64
}

// WorkerPool runs cutoff discovery for many markets concurrently. All
// workers share the engine, so the engine's rate limiter throttles the
// combined probe traffic rather than each worker individually.
//
// A non-nil store makes the pool persist every converged result with
// first-write-wins semantics; markets that already have a stored cutoff
// keep it.
type WorkerPool struct {
	engine      *Engine
	probe       probe.MarketDataProbe
	store       histdb.CutoffStorer
	workerCount int
	logger      *slog.Logger

	jobQueue chan *poolJob
	quit     chan struct{}
	wg       sync.WaitGroup

	stats     poolStats
	isStarted int32
}

// NewWorkerPool creates a discovery pool. workerCount values below 1
// are raised to 1; the store may be nil for discover-only use.
func NewWorkerPool(engine *Engine, p probe.MarketDataProbe, store histdb.CutoffStorer, workerCount int, logger *slog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerPool{
		engine:      engine,
		probe:       p,
		store:       store,
		workerCount: workerCount,
		logger:      logger.With(slog.String("component", "discovery_pool")),
		jobQueue:    make(chan *poolJob, workerCount*2),
		quit:        make(chan struct{}),
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 0, 1) {
		return fmt.Errorf("discovery pool is already started")
	}

	wp.logger.Info("starting discovery pool", slog.Int("worker_count", wp.workerCount))

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		atomic.AddInt32(&wp.stats.activeWorkers, 1)
		go wp.worker(i + 1)
	}
	return nil
}

// Stop drains the workers, waiting until they finish or ctx expires.
// Jobs still queued when Stop is called get a shutdown error through
// their callback.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 1, 0) {
		return fmt.Errorf("discovery pool is not started")
	}

	wp.logger.Info("stopping discovery pool")
	close(wp.quit)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info("discovery pool stopped")
		return nil
	case <-ctx.Done():
		wp.logger.Warn("discovery pool stop timed out")
		return ctx.Err()
	}
}

// Submit queues a discovery run for the market and returns the job ID.
// The callback, when non-nil, runs on a worker goroutine once the run
// finishes. Submit fails fast on a malformed tag so a bad market never
// spends probe budget.
func (wp *WorkerPool) Submit(ctx context.Context, marketTag string, callback func(JobResult)) (string, error) {
	if atomic.LoadInt32(&wp.isStarted) != 1 {
		return "", fmt.Errorf("discovery pool is not started")
	}
	parsed, err := models.ParseMarketTag(marketTag)
	if err != nil {
		return "", err
	}

	wrapper := &poolJob{
		job: DiscoveryJob{
			ID:        uuid.NewString(),
			MarketTag: parsed.Raw,
			Submitted: time.Now().UTC(),
		},
		callback: callback,
		ctx:      ctx,
	}

	atomic.AddInt32(&wp.stats.queuedJobs, 1)
	select {
	case wp.jobQueue <- wrapper:
		return wrapper.job.ID, nil
	case <-wp.quit:
		atomic.AddInt32(&wp.stats.queuedJobs, -1)
		return "", fmt.Errorf("discovery pool is shutting down")
	case <-ctx.Done():
		atomic.AddInt32(&wp.stats.queuedJobs, -1)
		return "", ctx.Err()
	}
}

// DiscoverAll runs discovery for every tag and blocks until all runs
// finish or ctx is cancelled. Results come back in completion order.
func (wp *WorkerPool) DiscoverAll(ctx context.Context, marketTags []string) ([]JobResult, error) {
	results := make(chan JobResult, len(marketTags))

	submitted := 0
	for _, tag := range marketTags {
		if _, err := wp.Submit(ctx, tag, func(r JobResult) { results <- r }); err != nil {
			return nil, fmt.Errorf("submitting %s: %w", tag, err)
		}
		submitted++
	}

	collected := make([]JobResult, 0, submitted)
	for i := 0; i < submitted; i++ {
		select {
		case r := <-results:
			collected = append(collected, r)
		case <-ctx.Done():
			return collected, ctx.Err()
		}
	}
	return collected, nil
}

// GetStats returns a snapshot of the pool's counters.
func (wp *WorkerPool) GetStats() PoolStats {
	avg := time.Duration(0)
	if count := atomic.LoadInt64(&wp.stats.jobCount); count > 0 {
		avg = time.Duration(atomic.LoadInt64(&wp.stats.totalJobTime) / count)
	}
	return PoolStats{
		ActiveWorkers:  int(atomic.LoadInt32(&wp.stats.activeWorkers)),
		QueuedJobs:     int(atomic.LoadInt32(&wp.stats.queuedJobs)),
		CompletedJobs:  atomic.LoadInt64(&wp.stats.completedJobs),
		FailedJobs:     atomic.LoadInt64(&wp.stats.failedJobs),
		AvgJobDuration: avg,
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer atomic.AddInt32(&wp.stats.activeWorkers, -1)

	log := wp.logger.With(slog.Int("worker_id", id))
	log.Debug("worker started")

	for {
		select {
		case wrapper := <-wp.jobQueue:
			atomic.AddInt32(&wp.stats.queuedJobs, -1)
			wp.runJob(log, wrapper)
		case <-wp.quit:
			wp.drainQueue(log)
			log.Debug("worker shutting down")
			return
		}
	}
}

// drainQueue fails every job still queued at shutdown so submitters
// waiting on a callback are never left hanging.
func (wp *WorkerPool) drainQueue(log *slog.Logger) {
	for {
		select {
		case wrapper := <-wp.jobQueue:
			atomic.AddInt32(&wp.stats.queuedJobs, -1)
			atomic.AddInt64(&wp.stats.failedJobs, 1)
			log.Debug("failing queued job at shutdown",
				slog.String("job_id", wrapper.job.ID),
				slog.String("market_tag", wrapper.job.MarketTag))
			if wrapper.callback != nil {
				wrapper.callback(JobResult{
					Job: wrapper.job,
					Err: fmt.Errorf("discovery pool is shutting down"),
				})
			}
		default:
			return
		}
	}
}

func (wp *WorkerPool) runJob(log *slog.Logger, wrapper *poolJob) {
	started := time.Now()
	job := wrapper.job

	log.Debug("running discovery job",
		slog.String("job_id", job.ID),
		slog.String("market_tag", job.MarketTag))

	out := JobResult{Job: job}
	out.Result = wp.engine.DiscoverCutoff(wrapper.ctx, job.MarketTag, wp.probe)

	if out.Result.Success && wp.store != nil {
		out.Outcome, out.Err = histdb.StoreDiscoveryResult(wrapper.ctx, wp.store, out.Result)
	}

	duration := time.Since(started)
	atomic.AddInt64(&wp.stats.totalJobTime, duration.Nanoseconds())
	atomic.AddInt64(&wp.stats.jobCount, 1)

	if out.Err != nil || !out.Result.Success {
		atomic.AddInt64(&wp.stats.failedJobs, 1)
		log.Warn("discovery job did not converge",
			slog.String("job_id", job.ID),
			slog.String("market_tag", job.MarketTag),
			slog.String("message", out.Result.Message),
			slog.Any("error", out.Err),
			slog.Duration("duration", duration))
	} else {
		atomic.AddInt64(&wp.stats.completedJobs, 1)
		log.Debug("discovery job completed",
			slog.String("job_id", job.ID),
			slog.String("market_tag", job.MarketTag),
			slog.Time("cutoff_date", out.Result.CutoffDate),
			slog.Duration("duration", duration))
	}

	if wrapper.callback != nil {
		wrapper.callback(out)
	}
}
