// Package services provides business logic implementations.
package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"go.uber.org/zap"
)

// Job represents a unit of deferred work for the worker pool.
type Job struct {
	// Name is used for logging only
	Name    string
	Execute func(ctx context.Context) error
}

// jobTimeout bounds a single job.
const jobTimeout = 30 * time.Second

// WorkerPool runs deferred jobs on a bounded set of goroutines. Submit never
// blocks; when the queue is full the job is dropped and counted.
type WorkerPool struct {
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.SugaredLogger
	metrics  *workerPoolMetrics
	config   config.WorkerPoolConfig
	mu       sync.RWMutex
	running  bool
	active   int32
}

type workerPoolMetrics struct {
	queueDepth    *metrics.Gauge
	activeWorkers *metrics.Gauge
	completedJobs *metrics.Counter
	droppedJobs   *metrics.Counter
	errorCount    *metrics.Counter
	jobDuration   *metrics.Histogram
}

func newWorkerPoolMetrics(reg *metrics.Registry, ns string) (*workerPoolMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &workerPoolMetrics{}
	var err error
	if m.queueDepth, err = reg.GetOrRegisterGauge(ns, "worker_pool_queue_depth", "Current number of jobs waiting in queue", nil); err != nil {
		return nil, err
	}
	if m.activeWorkers, err = reg.GetOrRegisterGauge(ns, "worker_pool_active_workers", "Current number of workers processing jobs", nil); err != nil {
		return nil, err
	}
	if m.completedJobs, err = reg.GetOrRegisterCounter(ns, "worker_pool_completed_jobs_total", "Total number of completed jobs", nil); err != nil {
		return nil, err
	}
	if m.droppedJobs, err = reg.GetOrRegisterCounter(ns, "worker_pool_dropped_jobs_total", "Total number of jobs dropped due to full queue", nil); err != nil {
		return nil, err
	}
	if m.errorCount, err = reg.GetOrRegisterCounter(ns, "worker_pool_errors_total", "Total number of job execution errors", nil); err != nil {
		return nil, err
	}
	if m.jobDuration, err = reg.GetOrRegisterHistogram(ns, "worker_pool_job_duration_seconds", "Time taken to execute jobs", nil,
		[]float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10}); err != nil {
		return nil, err
	}
	return m, nil
}

// NewWorkerPool creates a pool. It must be started with Start before jobs run.
// A nil registry disables pool metrics.
func NewWorkerPool(cfg config.WorkerPoolConfig, reg *metrics.Registry, namespace string) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	log := logger.GetLogger().Named("worker-pool")
	m, err := newWorkerPoolMetrics(reg, namespace)
	if err != nil {
		log.Warnw("Worker pool metrics disabled", "error", err)
		m = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobQueue: make(chan Job, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log,
		metrics:  m,
		config:   cfg,
	}
}

// Start launches the workers. Repeated calls are no-ops.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		wp.logger.Warn("Worker pool already running")
		return
	}
	wp.running = true

	wp.logger.Infow("Starting worker pool",
		"maxWorkers", wp.config.MaxWorkers,
		"queueSize", wp.config.QueueSize)

	for i := 0; i < wp.config.MaxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			wp.executeJob(id, job)
		}
	}
}

func (wp *WorkerPool) executeJob(workerID int, job Job) {
	wp.setGauge(func(m *workerPoolMetrics) *metrics.Gauge { return m.activeWorkers }, float64(atomic.AddInt32(&wp.active, 1)))
	wp.setGauge(func(m *workerPoolMetrics) *metrics.Gauge { return m.queueDepth }, float64(len(wp.jobQueue)))

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			wp.logger.Errorw("Job panicked", "job", job.Name, "workerId", workerID, "panic", rec)
			wp.inc(func(m *workerPoolMetrics) *metrics.Counter { return m.errorCount })
		}
		if wp.metrics != nil {
			_ = wp.metrics.jobDuration.Observe(time.Since(start).Seconds())
		}
		wp.inc(func(m *workerPoolMetrics) *metrics.Counter { return m.completedJobs })
		wp.setGauge(func(m *workerPoolMetrics) *metrics.Gauge { return m.activeWorkers }, float64(atomic.AddInt32(&wp.active, -1)))
	}()

	jobCtx, cancel := context.WithTimeout(wp.ctx, jobTimeout)
	defer cancel()

	if err := job.Execute(jobCtx); err != nil {
		wp.logger.Errorw("Job execution failed",
			"job", job.Name,
			"workerId", workerID,
			"error", err,
			"duration", time.Since(start))
		wp.inc(func(m *workerPoolMetrics) *metrics.Counter { return m.errorCount })
	}
}

func (wp *WorkerPool) inc(pick func(*workerPoolMetrics) *metrics.Counter) {
	if wp.metrics == nil {
		return
	}
	_ = pick(wp.metrics).Inc()
}

func (wp *WorkerPool) setGauge(pick func(*workerPoolMetrics) *metrics.Gauge, v float64) {
	if wp.metrics == nil {
		return
	}
	_ = pick(wp.metrics).Set(v)
}

// Submit queues a job. It returns false when the pool is stopped or full.
func (wp *WorkerPool) Submit(job Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		wp.logger.Debugw("Job rejected - pool not running", "job", job.Name)
		return false
	}

	select {
	case wp.jobQueue <- job:
		wp.setGauge(func(m *workerPoolMetrics) *metrics.Gauge { return m.queueDepth }, float64(len(wp.jobQueue)))
		return true
	default:
		wp.inc(func(m *workerPoolMetrics) *metrics.Counter { return m.droppedJobs })
		wp.logger.Warnw("Job dropped - queue full",
			"job", job.Name,
			"queueSize", wp.config.QueueSize)
		return false
	}
}

// Shutdown stops accepting jobs, lets workers drain the queue and waits for
// them until ctx is done.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.logger.Info("Initiating worker pool shutdown...")

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		wp.logger.Info("Worker pool shutdown complete")
		return nil
	case <-ctx.Done():
		wp.cancel()
		wp.logger.Warn("Worker pool shutdown timed out - some jobs may not have run")
		return ctx.Err()
	}
}

// QueueDepth returns the number of jobs waiting in the queue.
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}
