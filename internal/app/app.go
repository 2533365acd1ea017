// Package app wires configuration into the running set of services shared by
// the HTTP server and the healthcheck command.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/NomadCrew/chatpulse-backend/db"
	"github.com/NomadCrew/chatpulse-backend/handlers"
	"github.com/NomadCrew/chatpulse-backend/internal/broadcast"
	"github.com/NomadCrew/chatpulse-backend/internal/cache"
	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/internal/queue"
	"github.com/NomadCrew/chatpulse-backend/internal/store"
	"github.com/NomadCrew/chatpulse-backend/internal/store/postgres"
	"github.com/NomadCrew/chatpulse-backend/internal/websocket"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/router"
	"github.com/NomadCrew/chatpulse-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	monitoringRetention = 7 * 24 * time.Hour
	pruneInterval       = time.Hour
	redisConnectRetries = 3
)

// Options tune what New brings up.
type Options struct {
	// Migrate applies pending migrations after connecting when the database
	// config allows it.
	Migrate bool
	// StartTime anchors the reported uptime. Zero means now.
	StartTime time.Time
}

// Container holds every long-lived component.
type Container struct {
	Config    *config.Config
	Registry  *metrics.Registry
	StartTime time.Time

	DB    *db.DatabaseClient
	Redis *redis.Client

	WorkerPool  *services.WorkerPool
	Monitoring  *services.MonitoringService
	Limiter     services.RateLimiterInterface
	Health      *services.HealthService
	Collector   *services.MetricsCollector
	Chat        *services.ChatService
	Worker      *services.BroadcastWorker
	Broadcaster broadcast.Broadcaster
	Hub         *websocket.Hub

	monitoringStore store.MonitoringStore
	log             *zap.SugaredLogger
}

// New connects to the configured backends and builds the services. An
// unreachable database or Redis is logged and left for the probes to report;
// only configuration mistakes return an error.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	log := logger.GetLogger().Named("app")

	start := opts.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	c := &Container{
		Config:    cfg,
		Registry:  metrics.NewRegistry(),
		StartTime: start,
		log:       log,
	}

	tracer, err := c.connectDatabase(ctx, opts.Migrate)
	if err != nil {
		return nil, err
	}
	c.connectRedis(ctx)

	// go-redis clients must only reach the interfaces below when non-nil.
	var rdb redis.UniversalClient
	if c.Redis != nil {
		rdb = c.Redis
	}

	namespace := cfg.Metrics.Namespace
	c.WorkerPool = services.NewWorkerPool(cfg.WorkerPool, c.Registry, namespace)
	c.WorkerPool.Start()

	var failedJobs store.FailedJobStore
	if c.DB != nil {
		pool := c.DB.GetPool()
		c.monitoringStore = postgres.NewMonitoringStore(pool)
		failedJobs = postgres.NewFailedJobStore(pool)
	}
	c.Monitoring = services.NewMonitoringService(c.monitoringStore, c.WorkerPool)
	if tracer != nil {
		tracer.SetRecorder(c.Monitoring)
	}

	rawCache, err := newCache(cfg, rdb)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	appCache := cache.NewInstrumented(rawCache, c.Monitoring)

	q, err := newQueue(cfg, rdb)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	supervisors := newSupervisors(cfg, rdb)

	c.Broadcaster, err = broadcast.New(cfg.Broadcast.Driver, rdb)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	if rdb != nil {
		c.Limiter = services.NewRateLimitService(rdb)
	} else {
		c.Limiter = services.NewMemoryRateLimiter()
	}

	deps := services.ProbeDeps{
		DBConnection:     "postgres",
		Cache:            rawCache,
		Queue:            q,
		QueueConnection:  q.Connection(),
		QueueNames:       cfg.Queue.Names,
		BacklogThreshold: cfg.Queue.BacklogThreshold,
		Broadcast:        broadcast.ConfiguredDriver(cfg.Broadcast.Driver),
	}
	collectorDeps := services.MetricsCollectorDeps{
		Queue:      q,
		QueueNames: cfg.Queue.Names,
	}
	if c.DB != nil {
		deps.DB = c.DB.GetPool()
		collectorDeps.DB = c.DB.GetPool()
		collectorDeps.Pool = c.DB
		collectorDeps.FailedJobs = failedJobs
		collectorDeps.Monitoring = c.monitoringStore
	}
	if rdb != nil {
		deps.Redis = rdb
		collectorDeps.Redis = c.Redis
	}
	if supervisors != nil {
		deps.Supervisors = supervisors
		collectorDeps.Supervisors = supervisors
	}

	c.Health = services.NewHealthService(services.NewProbeTable(deps), c.Registry, services.HealthConfig{
		Version:      cfg.Server.Version,
		Environment:  string(cfg.Server.Environment),
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Namespace:    namespace,
		StartTime:    start,
	})
	collectorDeps.Health = c.Health
	c.Collector = services.NewMetricsCollector(c.Registry, namespace, start, collectorDeps)

	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	c.Chat = services.NewChatService(c.Limiter, c.Broadcaster, q, appCache, c.Monitoring, c.WorkerPool, services.ChatConfig{
		Queued:           cfg.Chat.Queued,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		PerMinute:        cfg.RateLimit.ChatPerMinute,
		BurstPerMinute:   cfg.RateLimit.ChatBurst,
		Window:           window,
		Channel:          cfg.Broadcast.Channel,
	})

	if cfg.Chat.Queued {
		var heartbeater services.SupervisorHeartbeater
		if supervisors != nil {
			heartbeater = supervisors
		}
		c.Worker = services.NewBroadcastWorker(q, c.Broadcaster, c.Chat, failedJobs, heartbeater, services.BroadcastWorkerConfig{
			Channel:       cfg.Broadcast.Channel,
			PollTimeout:   cfg.Queue.PollTimeout,
			SupervisorTTL: cfg.Queue.SupervisorTTL,
		})
	}

	var subscriber broadcast.Subscriber
	if s, ok := c.Broadcaster.(broadcast.Subscriber); ok {
		subscriber = s
	}
	c.Hub = websocket.NewHub(subscriber, cfg.Broadcast.Channel)

	log.Infow("Application container ready",
		"cache", rawCache.Driver(),
		"queue", q.Connection(),
		"broadcast", c.Broadcaster.DriverName(),
		"database", c.DB != nil,
		"redis", c.Redis != nil,
		"queued_chat", cfg.Chat.Queued)

	return c, nil
}

func (c *Container) connectDatabase(ctx context.Context, migrate bool) (*db.SlowQueryTracer, error) {
	poolConfig, err := config.ConfigurePostgresPool(&c.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	tracer := db.NewSlowQueryTracer(time.Duration(c.Config.Metrics.SlowQueryMs) * time.Millisecond)
	poolConfig.ConnConfig.Tracer = tracer

	client, err := db.Connect(ctx, poolConfig)
	if err != nil {
		c.log.Errorw("Database unavailable, continuing without it", "error", err)
		return tracer, nil
	}
	c.DB = client

	if migrate && c.Config.Database.RunMigrations {
		if err := db.RunMigrations(c.Config.Database.URL()); err != nil {
			c.log.Errorw("Database migrations failed", "error", err)
		}
	}
	return tracer, nil
}

func (c *Container) connectRedis(ctx context.Context) {
	if !c.Config.Redis.Enabled {
		c.log.Info("Redis disabled")
		return
	}
	client := redis.NewClient(config.ConfigureRedisOptions(&c.Config.Redis))
	if err := config.TestRedisConnection(ctx, client, redisConnectRetries, time.Second); err != nil {
		c.log.Errorw("Redis unavailable, probes will report it", "address", c.Config.Redis.Address, "error", err)
	}
	c.Redis = client
}

func newCache(cfg *config.Config, rdb redis.UniversalClient) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case config.DriverRedis:
		if rdb == nil {
			return nil, errors.New("cache driver \"redis\" requires REDIS_ENABLED=true")
		}
		return cache.NewRedisCache(rdb, cfg.Cache.Prefix), nil
	case config.DriverMemory, "":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

func newQueue(cfg *config.Config, rdb redis.UniversalClient) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.DriverRedis:
		if rdb == nil {
			return nil, errors.New("queue driver \"redis\" requires REDIS_ENABLED=true")
		}
		return queue.NewRedisQueue(rdb), nil
	case config.DriverMemory, "":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// newSupervisors returns the supervisor registry only when a queue worker will
// heartbeat into it. Without one the horizon probe reports not_installed.
func newSupervisors(cfg *config.Config, rdb redis.UniversalClient) *queue.SupervisorRegistry {
	if rdb == nil || !cfg.Queue.SupervisorEnabled || !cfg.Chat.Queued {
		return nil
	}
	return queue.NewSupervisorRegistry(rdb)
}

// Router builds the HTTP engine over the container's services.
func (c *Container) Router() *gin.Engine {
	return router.SetupRouter(router.Dependencies{
		Config:         c.Config,
		HealthHandler:  handlers.NewHealthHandler(c.Health),
		MetricsHandler: handlers.NewMetricsHandler(c.Collector, c.Registry),
		ChatHandler:    handlers.NewChatHandler(c.Chat),
		WSHandler:      websocket.NewHandler(c.Hub, &c.Config.Server),
		Registry:       c.Registry,
		RateLimiter:    c.Limiter,
		Recorder:       c.Monitoring,
	})
}

// RunBackground runs the websocket hub, the broadcast worker and the
// monitoring pruner until ctx is done or one of them fails.
func (c *Container) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Hub.Run(ctx)
	})
	if c.Worker != nil {
		g.Go(func() error {
			return c.Worker.Run(ctx)
		})
	}
	if c.monitoringStore != nil {
		g.Go(func() error {
			c.pruneLoop(ctx)
			return nil
		})
	}

	return g.Wait()
}

func (c *Container) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Monitoring.Prune(ctx, monitoringRetention); err != nil {
				c.log.Warnw("Failed to prune monitoring entries", "error", err)
			}
		}
	}
}

// Close releases connections in reverse dependency order. ctx bounds the
// hub and worker pool drain.
func (c *Container) Close(ctx context.Context) {
	if c.Hub != nil {
		if err := c.Hub.Shutdown(ctx); err != nil {
			c.log.Warnw("Websocket hub shutdown incomplete", "error", err)
		}
	}
	if c.WorkerPool != nil {
		if err := c.WorkerPool.Shutdown(ctx); err != nil {
			c.log.Warnw("Worker pool shutdown incomplete", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.log.Warnw("Failed to close redis client", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
