// Package config handles loading and validation of application configuration
// from environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Supported backend drivers.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
	DriverLog    = "log"
	DriverNull   = "null"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
}

// DatabaseConfig holds PostgreSQL database connection details.
type DatabaseConfig struct {
	Host           string `mapstructure:"HOST" yaml:"host"`
	Port           int    `mapstructure:"PORT" yaml:"port"`
	User           string `mapstructure:"USER" yaml:"user"`
	Password       string `mapstructure:"PASSWORD" yaml:"password"`
	Name           string `mapstructure:"NAME" yaml:"name"`
	MaxConnections int    `mapstructure:"MAX_CONNECTIONS" yaml:"max_connections"`
	SSLMode        string `mapstructure:"SSL_MODE" yaml:"ssl_mode"`
	ConnMaxLife    string `mapstructure:"CONN_MAX_LIFE" yaml:"conn_max_life"`
	RunMigrations  bool   `mapstructure:"RUN_MIGRATIONS" yaml:"run_migrations"`
}

// URL returns a postgres:// connection URL suitable for pgxpool and golang-migrate.
func (c *DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		sslmode,
	)
}

// RedisConfig holds Redis connection details. Enabled=false leaves the
// application without a Redis connection; the redis probe then reports not_configured.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"ENABLED" yaml:"enabled"`
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Driver string `mapstructure:"DRIVER" yaml:"driver"`
	Prefix string `mapstructure:"PREFIX" yaml:"prefix"`
}

// QueueConfig describes the named job queues and the supervisor registry.
type QueueConfig struct {
	Driver            string        `mapstructure:"DRIVER" yaml:"driver"`
	Names             []string      `mapstructure:"NAMES" yaml:"names"`
	BacklogThreshold  int64         `mapstructure:"BACKLOG_THRESHOLD" yaml:"backlog_threshold"`
	SupervisorEnabled bool          `mapstructure:"SUPERVISOR_ENABLED" yaml:"supervisor_enabled"`
	SupervisorTTL     time.Duration `mapstructure:"SUPERVISOR_TTL" yaml:"supervisor_ttl"`
	PollTimeout       time.Duration `mapstructure:"POLL_TIMEOUT" yaml:"poll_timeout"`
}

// BroadcastConfig selects the realtime transport driver.
type BroadcastConfig struct {
	Driver  string `mapstructure:"DRIVER" yaml:"driver"`
	Channel string `mapstructure:"CHANNEL" yaml:"channel"`
}

// HealthConfig configures the health aggregator.
type HealthConfig struct {
	// ProbeTimeout bounds every individual probe.
	ProbeTimeout time.Duration `mapstructure:"PROBE_TIMEOUT" yaml:"probe_timeout"`
}

// MetricsConfig configures the Prometheus exporter and monitoring thresholds.
type MetricsConfig struct {
	Namespace     string `mapstructure:"NAMESPACE" yaml:"namespace"`
	SlowRequestMs int    `mapstructure:"SLOW_REQUEST_MS" yaml:"slow_request_ms"`
	SlowQueryMs   int    `mapstructure:"SLOW_QUERY_MS" yaml:"slow_query_ms"`
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	ChatPerMinute   int `mapstructure:"CHAT_PER_MINUTE" yaml:"chat_per_minute"`
	ChatBurst       int `mapstructure:"CHAT_BURST" yaml:"chat_burst"`
	HealthPerMinute int `mapstructure:"HEALTH_PER_MINUTE" yaml:"health_per_minute"`
	WindowSeconds   int `mapstructure:"WINDOW_SECONDS" yaml:"window_seconds"`
}

// ChatConfig controls the chat notify endpoint.
type ChatConfig struct {
	// Queued pushes messages onto the broadcasts queue instead of broadcasting inline.
	Queued           bool `mapstructure:"QUEUED" yaml:"queued"`
	MaxMessageLength int  `mapstructure:"MAX_MESSAGE_LENGTH" yaml:"max_message_length"`
}

// WorkerPoolConfig holds configuration for the background job worker pool.
type WorkerPoolConfig struct {
	MaxWorkers             int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	QueueSize              int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server     ServerConfig     `mapstructure:"SERVER" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"DATABASE" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"REDIS" yaml:"redis"`
	Cache      CacheConfig      `mapstructure:"CACHE" yaml:"cache"`
	Queue      QueueConfig      `mapstructure:"QUEUE" yaml:"queue"`
	Broadcast  BroadcastConfig  `mapstructure:"BROADCAST" yaml:"broadcast"`
	Health     HealthConfig     `mapstructure:"HEALTH" yaml:"health"`
	Metrics    MetricsConfig    `mapstructure:"METRICS" yaml:"metrics"`
	RateLimit  RateLimitConfig  `mapstructure:"RATE_LIMIT" yaml:"rate_limit"`
	Chat       ChatConfig       `mapstructure:"CHAT" yaml:"chat"`
	WorkerPool WorkerPoolConfig `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.VERSION", "1.0.0")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.NAME", "chatpulse_dev")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.MAX_CONNECTIONS", 10)
	v.SetDefault("DATABASE.CONN_MAX_LIFE", "1h")
	v.SetDefault("DATABASE.RUN_MIGRATIONS", true)
	v.SetDefault("REDIS.ENABLED", true)
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 5)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("CACHE.DRIVER", DriverRedis)
	v.SetDefault("CACHE.PREFIX", "chatpulse_cache:")
	v.SetDefault("QUEUE.DRIVER", DriverRedis)
	v.SetDefault("QUEUE.NAMES", []string{"default", "broadcasts"})
	v.SetDefault("QUEUE.BACKLOG_THRESHOLD", 100)
	v.SetDefault("QUEUE.SUPERVISOR_ENABLED", true)
	v.SetDefault("QUEUE.SUPERVISOR_TTL", "30s")
	v.SetDefault("QUEUE.POLL_TIMEOUT", "5s")
	v.SetDefault("BROADCAST.DRIVER", DriverRedis)
	v.SetDefault("BROADCAST.CHANNEL", "chat-room")
	v.SetDefault("HEALTH.PROBE_TIMEOUT", "2s")
	v.SetDefault("METRICS.NAMESPACE", "chatpulse")
	v.SetDefault("METRICS.SLOW_REQUEST_MS", 1000)
	v.SetDefault("METRICS.SLOW_QUERY_MS", 500)
	v.SetDefault("RATE_LIMIT.CHAT_PER_MINUTE", 30)
	v.SetDefault("RATE_LIMIT.CHAT_BURST", 10)
	v.SetDefault("RATE_LIMIT.HEALTH_PER_MINUTE", 60)
	v.SetDefault("RATE_LIMIT.WINDOW_SECONDS", 60)
	v.SetDefault("CHAT.QUEUED", false)
	v.SetDefault("CHAT.MAX_MESSAGE_LENGTH", 500)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 4)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 1000)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
}

// LoadConfig loads configuration from environment variables using Viper,
// sets default values, binds environment variables to config struct fields,
// unmarshals the configuration, and validates it.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envBindings := [][2]string{
		// Server config
		{"SERVER.ENVIRONMENT", "ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		{"SERVER.VERSION", "APP_VERSION"},
		// Database config
		{"DATABASE.HOST", "DB_HOST"},
		{"DATABASE.PORT", "DB_PORT"},
		{"DATABASE.USER", "DB_USER"},
		{"DATABASE.PASSWORD", "DB_PASSWORD"},
		{"DATABASE.NAME", "DB_NAME"},
		{"DATABASE.SSL_MODE", "DB_SSL_MODE"},
		{"DATABASE.MAX_CONNECTIONS", "DB_MAX_CONNECTIONS"},
		{"DATABASE.RUN_MIGRATIONS", "DB_RUN_MIGRATIONS"},
		// Redis config
		{"REDIS.ENABLED", "REDIS_ENABLED"},
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"REDIS.USE_TLS", "REDIS_USE_TLS"},
		// Backends
		{"CACHE.DRIVER", "CACHE_DRIVER"},
		{"QUEUE.DRIVER", "QUEUE_DRIVER"},
		{"QUEUE.NAMES", "QUEUE_NAMES"},
		{"QUEUE.BACKLOG_THRESHOLD", "QUEUE_BACKLOG_THRESHOLD"},
		{"QUEUE.SUPERVISOR_ENABLED", "QUEUE_SUPERVISOR_ENABLED"},
		{"BROADCAST.DRIVER", "BROADCAST_DRIVER"},
		{"BROADCAST.CHANNEL", "BROADCAST_CHANNEL"},
		// Health and metrics
		{"HEALTH.PROBE_TIMEOUT", "HEALTH_PROBE_TIMEOUT"},
		{"METRICS.NAMESPACE", "METRICS_NAMESPACE"},
		{"METRICS.SLOW_REQUEST_MS", "METRICS_SLOW_REQUEST_MS"},
		{"METRICS.SLOW_QUERY_MS", "METRICS_SLOW_QUERY_MS"},
		// Rate limit config
		{"RATE_LIMIT.CHAT_PER_MINUTE", "RATE_LIMIT_CHAT_PER_MINUTE"},
		{"RATE_LIMIT.CHAT_BURST", "RATE_LIMIT_CHAT_BURST"},
		{"RATE_LIMIT.HEALTH_PER_MINUTE", "RATE_LIMIT_HEALTH_PER_MINUTE"},
		{"RATE_LIMIT.WINDOW_SECONDS", "RATE_LIMIT_WINDOW_SECONDS"},
		// Chat
		{"CHAT.QUEUED", "CHAT_QUEUED"},
		{"CHAT.MAX_MESSAGE_LENGTH", "CHAT_MAX_MESSAGE_LENGTH"},
		// WorkerPool config
		{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
		{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
		{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
	}

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", v.GetString("SERVER.ENVIRONMENT"),
		"server_port", v.GetString("SERVER.PORT"),
		"db_host", v.GetString("DATABASE.HOST"),
		"redis_enabled", v.GetBool("REDIS.ENABLED"),
		"cache_driver", v.GetString("CACHE.DRIVER"),
		"queue_driver", v.GetString("QUEUE.DRIVER"),
		"broadcast_driver", v.GetString("BROADCAST.DRIVER"),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

// validateConfig checks if the loaded configuration values are valid.
func validateConfig(cfg *Config) error {
	log := logger.GetLogger()

	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}

	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Database.Password == "" {
		log.Warn("Database password is not set. Ensure this is intended (e.g., using trusted auth).")
	}

	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if err := validateDriver("cache", cfg.Cache.Driver, DriverRedis, DriverMemory); err != nil {
		return err
	}
	if err := validateDriver("queue", cfg.Queue.Driver, DriverRedis, DriverMemory); err != nil {
		return err
	}
	// An empty broadcast driver is allowed; the broadcasting probe reports it as not configured.
	if cfg.Broadcast.Driver != "" {
		if err := validateDriver("broadcast", cfg.Broadcast.Driver, DriverRedis, DriverLog, DriverNull); err != nil {
			return err
		}
	}
	for _, needsRedis := range []struct{ name, driver string }{
		{"cache", cfg.Cache.Driver},
		{"queue", cfg.Queue.Driver},
		{"broadcast", cfg.Broadcast.Driver},
	} {
		if needsRedis.driver == DriverRedis && !cfg.Redis.Enabled {
			return fmt.Errorf("%s driver %q requires redis to be enabled", needsRedis.name, needsRedis.driver)
		}
	}

	if len(cfg.Queue.Names) == 0 {
		return fmt.Errorf("at least one queue name is required")
	}
	if cfg.Queue.BacklogThreshold <= 0 {
		return fmt.Errorf("queue backlog threshold must be positive")
	}
	if cfg.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health probe timeout must be positive")
	}
	if cfg.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace is required")
	}
	if cfg.RateLimit.ChatPerMinute <= 0 || cfg.RateLimit.ChatBurst <= 0 || cfg.RateLimit.HealthPerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window seconds must be positive")
	}
	if cfg.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat max message length must be positive")
	}
	if cfg.WorkerPool.MaxWorkers <= 0 {
		return fmt.Errorf("worker pool max workers must be positive")
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue size must be positive")
	}
	if cfg.WorkerPool.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("worker pool shutdown timeout must be positive")
	}

	return nil
}

func validateDriver(component, driver string, allowed ...string) error {
	for _, a := range allowed {
		if driver == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported %s driver %q (allowed: %s)", component, driver, strings.Join(allowed, ", "))
}

// containsWildcard checks if the list of allowed origins contains the wildcard "*".
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
