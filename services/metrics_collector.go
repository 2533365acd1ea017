package services

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/internal/queue"
	"github.com/NomadCrew/chatpulse-backend/internal/store"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PoolStats reports the number of connections currently checked out.
type PoolStats interface {
	AcquiredConns() int32
}

// RedisInfoReader is satisfied by *redis.Client and *redis.ClusterClient.
type RedisInfoReader interface {
	InfoMap(ctx context.Context, sections ...string) *redis.InfoCmd
}

// HealthEvaluator runs the probe table without recording metrics.
type HealthEvaluator interface {
	Evaluate(ctx context.Context) types.HealthReport
}

// MetricsCollectorDeps lists the sources sampled on each scrape. Any nil
// source skips its step.
type MetricsCollectorDeps struct {
	Queue       queue.Sizer
	QueueNames  []string
	FailedJobs  store.FailedJobStore
	Monitoring  store.MonitoringStore
	DB          DatabaseProber
	Pool        PoolStats
	Health      HealthEvaluator
	Supervisors queue.SupervisorLister
	Redis       RedisInfoReader
}

// MetricsCollector refreshes gauges in the registry right before exposition.
type MetricsCollector struct {
	deps      MetricsCollectorDeps
	registry  *metrics.Registry
	namespace string
	startTime time.Time
	log       *zap.SugaredLogger
	now       func() time.Time

	peakMu  sync.Mutex
	peakSys uint64
}

func NewMetricsCollector(registry *metrics.Registry, namespace string, startTime time.Time, deps MetricsCollectorDeps) *MetricsCollector {
	if len(deps.QueueNames) == 0 {
		deps.QueueNames = []string{"default"}
	}
	return &MetricsCollector{
		deps:      deps,
		registry:  registry,
		namespace: namespace,
		startTime: startTime,
		log:       logger.GetLogger().Named("metrics"),
		now:       time.Now,
	}
}

// Collect runs every collection step. A failing step is logged and does not
// stop the others.
func (m *MetricsCollector) Collect(ctx context.Context) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"application", m.collectApplication},
		{"queue", m.collectQueue},
		{"monitoring", m.collectMonitoring},
		{"database", m.collectDatabase},
		{"health", m.collectHealth},
		{"horizon", m.collectHorizon},
		{"redis", m.collectRedis},
	}
	for _, s := range steps {
		m.guard(ctx, s.name, s.fn)
	}
}

func (m *MetricsCollector) guard(ctx context.Context, step string, fn func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Warnw("Metrics collection panicked", "step", step, "panic", rec)
		}
	}()
	if err := fn(ctx); err != nil {
		m.log.Warnw("Metrics collection failed", "step", step, "error", err)
	}
}

func (m *MetricsCollector) setGauge(name, help string, v float64) error {
	g, err := m.registry.GetOrRegisterGauge(m.namespace, name, help, nil)
	if err != nil {
		return err
	}
	return g.Set(v)
}

func (m *MetricsCollector) collectApplication(_ context.Context) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.peakMu.Lock()
	if ms.Sys > m.peakSys {
		m.peakSys = ms.Sys
	}
	peak := m.peakSys
	m.peakMu.Unlock()

	if err := m.setGauge("app_memory_usage_bytes", "Application memory usage in bytes", float64(ms.HeapInuse)); err != nil {
		return err
	}
	if err := m.setGauge("app_memory_peak_bytes", "Peak memory usage in bytes", float64(peak)); err != nil {
		return err
	}

	info, err := m.registry.GetOrRegisterGauge(m.namespace, "app_go_version_info", "Go runtime version information", []string{"version"})
	if err != nil {
		return err
	}
	if err := info.Set(1, runtime.Version()); err != nil {
		return err
	}

	uptime := m.now().Sub(m.startTime).Seconds()
	if uptime < 0 {
		uptime = 0
	}
	return m.setGauge("app_uptime_seconds", "Application uptime in seconds", float64(int64(uptime)))
}

func (m *MetricsCollector) collectQueue(ctx context.Context) error {
	if m.deps.Queue != nil {
		sizes, err := m.registry.GetOrRegisterGauge(m.namespace, "queue_size", "Number of jobs in queue", []string{"queue"})
		if err != nil {
			return err
		}
		for _, name := range m.deps.QueueNames {
			size, err := m.deps.Queue.Size(ctx, name)
			if err != nil {
				size = 0
			}
			if err := sizes.Set(float64(size), name); err != nil {
				return err
			}
		}
	}

	if m.deps.FailedJobs == nil {
		return nil
	}
	failed, err := m.deps.FailedJobs.CountFailedJobs(ctx)
	if err != nil {
		// The table may be missing; leave the gauge unset.
		m.log.Debugw("Failed jobs count unavailable", "error", err)
		return nil
	}
	return m.setGauge("queue_failed_jobs_total", "Total number of failed jobs", float64(failed))
}

// CacheHitRatio returns hits as a percentage of all lookups, 0 when there
// were none.
func CacheHitRatio(hits, misses int64) float64 {
	total := hits + misses
	if total <= 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

type windowCount struct {
	entryType string
	window    time.Duration
	name      string
	help      string
}

var monitoringCounts = []windowCount{
	{types.EntrySlowQuery, 5 * time.Minute, "monitoring_slow_queries_total", "Number of slow queries in last 5 minutes"},
	{types.EntrySlowRequest, 5 * time.Minute, "monitoring_slow_requests_total", "Number of slow requests in last 5 minutes"},
	{types.EntryUserRequest, time.Minute, "monitoring_requests_per_minute", "Number of requests per minute"},
	{types.EntryCacheHit, 5 * time.Minute, "monitoring_cache_hits_total", "Cache hits in last 5 minutes"},
	{types.EntryCacheMiss, 5 * time.Minute, "monitoring_cache_misses_total", "Cache misses in last 5 minutes"},
	{types.EntryException, 5 * time.Minute, "monitoring_exceptions_total", "Number of exceptions in last 5 minutes"},
}

func (m *MetricsCollector) collectMonitoring(ctx context.Context) error {
	if m.deps.Monitoring == nil {
		return nil
	}
	now := m.now()

	counts := make(map[string]int64, len(monitoringCounts))
	for _, wc := range monitoringCounts {
		n, err := m.deps.Monitoring.CountSince(ctx, wc.entryType, now.Add(-wc.window))
		if err != nil {
			m.log.Warnw("Monitoring query failed", "type", wc.entryType, "error", err)
			n = 0
		}
		counts[wc.entryType] = n
		if err := m.setGauge(wc.name, wc.help, float64(n)); err != nil {
			return err
		}
	}

	ratio := CacheHitRatio(counts[types.EntryCacheHit], counts[types.EntryCacheMiss])
	if err := m.setGauge("monitoring_cache_hit_ratio_percent", "Cache hit ratio percentage", ratio); err != nil {
		return err
	}

	hits, err := m.deps.Monitoring.SumSince(ctx, types.EntryChatRateLimits, now.Add(-5*time.Minute))
	if err != nil {
		m.log.Warnw("Monitoring query failed", "type", types.EntryChatRateLimits, "error", err)
		hits = 0
	}
	return m.setGauge("rate_limit_hits_total", "Rate limit hits in last 5 minutes", hits)
}

func (m *MetricsCollector) collectDatabase(ctx context.Context) error {
	if m.deps.Pool != nil {
		if err := m.setGauge("database_connections_active", "Number of active database connections",
			float64(m.deps.Pool.AcquiredConns())); err != nil {
			return err
		}
	}

	if m.deps.DB == nil {
		return nil
	}
	start := time.Now()
	var one int
	if err := m.deps.DB.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database response time: %w", err)
	}
	return m.setGauge("database_response_time_ms", "Database response time in milliseconds", types.RoundMs(time.Since(start)))
}

func (m *MetricsCollector) collectHealth(ctx context.Context) error {
	if m.deps.Health == nil {
		return nil
	}
	start := time.Now()
	report := m.deps.Health.Evaluate(ctx)
	elapsed := types.RoundMs(time.Since(start))

	svc, err := m.registry.GetOrRegisterGauge(m.namespace, "service_health_status", "Health status of individual services", []string{"service"})
	if err != nil {
		return err
	}
	var firstErr error
	report.Checks.Each(func(r types.ProbeResult) {
		if r.Status.Absent() {
			return
		}
		if err := svc.Set(statusGaugeValue(r.Status), r.Service); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	if firstErr != nil {
		return firstErr
	}

	if err := m.setGauge("app_health_status", "Overall application health status (1 = healthy, 0 = unhealthy)",
		statusGaugeValue(report.Status)); err != nil {
		return err
	}
	return m.setGauge("health_check_evaluation_ms", "Health check evaluation time in milliseconds", elapsed)
}

func (m *MetricsCollector) collectHorizon(ctx context.Context) error {
	if m.deps.Supervisors == nil {
		return nil
	}
	sups, err := m.deps.Supervisors.All(ctx)
	if err != nil {
		return err
	}
	return m.setGauge("horizon_supervisors_active", "Number of active queue supervisors", float64(len(sups)))
}

func (m *MetricsCollector) collectRedis(ctx context.Context) error {
	if m.deps.Redis == nil {
		return nil
	}
	info, err := m.deps.Redis.InfoMap(ctx, "memory", "clients").Result()
	if err != nil {
		return err
	}

	fields := []struct {
		section, key, name, help string
	}{
		{"Memory", "used_memory", "redis_memory_used_bytes", "Redis memory usage in bytes"},
		{"Clients", "connected_clients", "redis_connected_clients", "Number of connected Redis clients"},
	}
	for _, f := range fields {
		v, ok := info[f.section][f.key]
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if err := m.setGauge(f.name, f.help, n); err != nil {
			return err
		}
	}
	return nil
}
