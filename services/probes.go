package services

import (
	"context"
	"fmt"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/broadcast"
	"github.com/NomadCrew/chatpulse-backend/internal/cache"
	"github.com/NomadCrew/chatpulse-backend/internal/queue"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// Service keys in probe execution order.
const (
	ServiceDatabase      = "database"
	ServiceCache         = "cache"
	ServiceQueue         = "queue"
	ServiceHorizon       = "horizon"
	ServiceQueueBacklogs = "queue_backlogs"
	ServiceRedis         = "redis"
	ServiceBroadcasting  = "broadcasting"
)

// DefaultBacklogThreshold is the total queued job count above which the
// backlog probe reports a warning.
const DefaultBacklogThreshold = 100

// DatabaseProber is satisfied by *pgxpool.Pool and pgxmock pools.
type DatabaseProber interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// RedisPinger is satisfied by every go-redis client.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// ProbeFunc checks a single backing service. It must encode every failure
// in the returned result.
type ProbeFunc func(ctx context.Context) types.ProbeResult

// ProbeSpec is one row of the probe table.
type ProbeSpec struct {
	Name     string
	Critical bool
	Probe    ProbeFunc
}

// ProbeDeps holds the collaborators probed by the table. Nil Supervisors,
// Redis or Broadcast mark those targets as absent.
type ProbeDeps struct {
	DB               DatabaseProber
	DBConnection     string
	Cache            cache.Store
	Queue            queue.Sizer
	QueueConnection  string
	QueueNames       []string
	BacklogThreshold int64
	Supervisors      queue.SupervisorLister
	Redis            RedisPinger
	Broadcast        broadcast.DriverReporter
}

// NewProbeTable returns the probes in their fixed execution order.
func NewProbeTable(d ProbeDeps) []ProbeSpec {
	if len(d.QueueNames) == 0 {
		d.QueueNames = []string{"default"}
	}
	if d.BacklogThreshold <= 0 {
		d.BacklogThreshold = DefaultBacklogThreshold
	}

	return []ProbeSpec{
		{Name: ServiceDatabase, Critical: true, Probe: d.probeDatabase},
		{Name: ServiceCache, Critical: true, Probe: d.probeCache},
		{Name: ServiceQueue, Critical: true, Probe: d.probeQueue},
		{Name: ServiceHorizon, Probe: d.probeHorizon},
		{Name: ServiceQueueBacklogs, Probe: d.probeQueueBacklogs},
		{Name: ServiceRedis, Probe: d.probeRedis},
		{Name: ServiceBroadcasting, Probe: d.probeBroadcasting},
	}
}

func unhealthy(service, prefix string, err error) types.ProbeResult {
	return types.ProbeResult{
		Service: service,
		Status:  types.HealthStatusUnhealthy,
		Message: prefix + ": " + err.Error(),
		Error:   err.Error(),
	}
}

func (d ProbeDeps) probeDatabase(ctx context.Context) types.ProbeResult {
	const failed = "Database connection failed"
	if d.DB == nil {
		return unhealthy(ServiceDatabase, failed, fmt.Errorf("no database connection"))
	}

	start := time.Now()
	if err := d.DB.Ping(ctx); err != nil {
		return unhealthy(ServiceDatabase, failed, err)
	}

	var test int
	if err := d.DB.QueryRow(ctx, "SELECT 1 AS test").Scan(&test); err != nil {
		return unhealthy(ServiceDatabase, failed, err)
	}
	if test != 1 {
		return unhealthy(ServiceDatabase, failed, fmt.Errorf("database query returned unexpected result"))
	}

	res := types.ProbeResult{
		Service: ServiceDatabase,
		Status:  types.HealthStatusHealthy,
		Message: "Database connection successful",
		Details: map[string]interface{}{
			"connection": d.DBConnection,
			"driver":     "pgx",
		},
	}
	res.SetResponseTime(time.Since(start))
	return res
}

func (d ProbeDeps) probeCache(ctx context.Context) types.ProbeResult {
	const failed = "Cache system failed"
	if d.Cache == nil {
		return unhealthy(ServiceCache, failed, fmt.Errorf("no cache store"))
	}

	start := time.Now()
	now := time.Now().Unix()
	key := fmt.Sprintf("health_check_%d_%s", now, uuid.NewString())
	value := fmt.Sprintf("test_%d", now)

	if err := d.Cache.Put(ctx, key, value, time.Minute); err != nil {
		return unhealthy(ServiceCache, failed, err)
	}
	got, ok, err := d.Cache.Get(ctx, key)
	if err != nil {
		_ = d.Cache.Forget(ctx, key)
		return unhealthy(ServiceCache, failed, err)
	}
	if !ok || got != value {
		_ = d.Cache.Forget(ctx, key)
		return unhealthy(ServiceCache, failed, fmt.Errorf("cache write/read test failed"))
	}
	if err := d.Cache.Forget(ctx, key); err != nil {
		return unhealthy(ServiceCache, failed, err)
	}
	if _, stillThere, err := d.Cache.Get(ctx, key); err != nil {
		return unhealthy(ServiceCache, failed, err)
	} else if stillThere {
		return unhealthy(ServiceCache, failed, fmt.Errorf("cache delete test failed"))
	}

	res := types.ProbeResult{
		Service: ServiceCache,
		Status:  types.HealthStatusHealthy,
		Message: "Cache system functional",
		Details: map[string]interface{}{"driver": d.Cache.Driver()},
	}
	res.SetResponseTime(time.Since(start))
	return res
}

// queueSizes sizes every configured queue, stopping at the first error.
func (d ProbeDeps) queueSizes(ctx context.Context) (map[string]int64, int64, error) {
	if d.Queue == nil {
		return nil, 0, fmt.Errorf("no queue connection")
	}
	sizes := make(map[string]int64, len(d.QueueNames))
	var total int64
	for _, name := range d.QueueNames {
		size, err := d.Queue.Size(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		sizes[name] = size
		total += size
	}
	return sizes, total, nil
}

func (d ProbeDeps) probeQueue(ctx context.Context) types.ProbeResult {
	start := time.Now()
	sizes, _, err := d.queueSizes(ctx)
	if err != nil {
		return unhealthy(ServiceQueue, "Queue system failed", err)
	}

	res := types.ProbeResult{
		Service: ServiceQueue,
		Status:  types.HealthStatusHealthy,
		Message: "Queue system accessible",
		Details: map[string]interface{}{
			"default_queue_size": sizes[d.QueueNames[0]],
			"queue_sizes":        sizes,
			"connection":         d.QueueConnection,
		},
	}
	res.SetResponseTime(time.Since(start))
	return res
}

func (d ProbeDeps) probeHorizon(ctx context.Context) types.ProbeResult {
	if d.Supervisors == nil {
		return types.ProbeResult{
			Service: ServiceHorizon,
			Status:  types.HealthStatusNotInstalled,
			Message: "Horizon is not installed",
		}
	}

	start := time.Now()
	supervisors, err := d.Supervisors.All(ctx)
	if err != nil {
		return unhealthy(ServiceHorizon, "Horizon check failed", err)
	}

	if len(supervisors) == 0 {
		res := types.ProbeResult{
			Service: ServiceHorizon,
			Status:  types.HealthStatusUnhealthy,
			Message: "No Horizon supervisors active",
			Error:   "no active supervisors",
			Details: map[string]interface{}{"active_supervisors": 0},
		}
		res.SetResponseTime(time.Since(start))
		return res
	}

	details := make([]map[string]interface{}, 0, len(supervisors))
	for _, s := range supervisors {
		queues := s.Queues
		if queues == nil {
			queues = []string{}
		}
		details = append(details, map[string]interface{}{
			"name":      s.Name,
			"status":    s.Status,
			"processes": s.Processes,
			"queues":    queues,
		})
	}

	res := types.ProbeResult{
		Service: ServiceHorizon,
		Status:  types.HealthStatusHealthy,
		Message: "Horizon workers active",
		Details: map[string]interface{}{
			"active_supervisors": len(supervisors),
			"supervisor_details": details,
		},
	}
	res.SetResponseTime(time.Since(start))
	return res
}

func (d ProbeDeps) probeQueueBacklogs(ctx context.Context) types.ProbeResult {
	start := time.Now()
	sizes, total, err := d.queueSizes(ctx)
	if err != nil {
		return unhealthy(ServiceQueueBacklogs, "Queue backlog check failed", err)
	}

	res := types.ProbeResult{
		Service: ServiceQueueBacklogs,
		Status:  types.HealthStatusHealthy,
		Message: "Queue backlogs within normal range",
		Details: map[string]interface{}{
			"total_backlog": total,
			"queue_sizes":   sizes,
			"threshold":     d.BacklogThreshold,
		},
	}
	if total > d.BacklogThreshold {
		res.Status = types.HealthStatusWarning
		res.Message = fmt.Sprintf("High queue backlog detected: %d jobs", total)
	}
	res.SetResponseTime(time.Since(start))
	return res
}

func (d ProbeDeps) probeRedis(ctx context.Context) types.ProbeResult {
	if d.Redis == nil {
		return types.ProbeResult{
			Service: ServiceRedis,
			Status:  types.HealthStatusNotConfigured,
			Message: "Redis is not configured",
		}
	}

	start := time.Now()
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return unhealthy(ServiceRedis, "Redis connection failed", err)
	}

	res := types.ProbeResult{
		Service: ServiceRedis,
		Status:  types.HealthStatusHealthy,
		Message: "Redis connection successful",
	}
	res.SetResponseTime(time.Since(start))
	return res
}

func (d ProbeDeps) probeBroadcasting(_ context.Context) types.ProbeResult {
	notConfigured := types.ProbeResult{
		Service: ServiceBroadcasting,
		Status:  types.HealthStatusNotConfigured,
		Message: "Broadcasting is not configured",
	}
	if d.Broadcast == nil {
		return notConfigured
	}

	driver, err := d.Broadcast.DriverName()
	if err != nil {
		// A broken reader is not proof the transport is down.
		return types.ProbeResult{
			Service: ServiceBroadcasting,
			Status:  types.HealthStatusWarning,
			Message: "Broadcasting check failed: " + err.Error(),
		}
	}
	if driver == "" || driver == broadcast.DriverNull {
		return notConfigured
	}

	return types.ProbeResult{
		Service: ServiceBroadcasting,
		Status:  types.HealthStatusHealthy,
		Message: "Broadcasting configured",
		Details: map[string]interface{}{"driver": driver},
	}
}
