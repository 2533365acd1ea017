// Package db owns the PostgreSQL connection pool, schema migrations and the
// slow-query tracer.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseClient wraps a pgxpool.Pool and can rebuild it from its config.
type DatabaseClient struct {
	pool       *pgxpool.Pool
	config     *pgxpool.Config
	mu         sync.RWMutex
	maxRetries int
	retryDelay time.Duration
}

// NewDatabaseClient wraps an existing pool. Without a config the pool cannot be refreshed.
func NewDatabaseClient(pool *pgxpool.Pool) *DatabaseClient {
	return NewDatabaseClientWithConfig(pool, nil)
}

// NewDatabaseClientWithConfig wraps pool and keeps config for reconnects.
func NewDatabaseClientWithConfig(pool *pgxpool.Pool, config *pgxpool.Config) *DatabaseClient {
	return &DatabaseClient{
		pool:       pool,
		config:     config,
		maxRetries: 5,
		retryDelay: time.Second,
	}
}

// Connect creates a pool from config, retrying with backoff, and verifies it with a ping.
func Connect(ctx context.Context, config *pgxpool.Config) (*DatabaseClient, error) {
	dc := NewDatabaseClientWithConfig(nil, config)
	if err := dc.reconnect(ctx); err != nil {
		return nil, err
	}
	return dc, nil
}

// GetPool returns the underlying pool in a thread-safe manner.
func (dc *DatabaseClient) GetPool() *pgxpool.Pool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.pool
}

// AcquiredConns reports the number of connections currently checked out of the pool.
func (dc *DatabaseClient) AcquiredConns() int32 {
	pool := dc.GetPool()
	if pool == nil {
		return 0
	}
	return pool.Stat().AcquiredConns()
}

// RefreshPool closes the current pool and builds a new one from the stored config.
func (dc *DatabaseClient) RefreshPool(ctx context.Context) error {
	if dc.config == nil {
		return fmt.Errorf("cannot refresh pool: database configuration not available")
	}

	dc.mu.Lock()
	if dc.pool != nil {
		dc.pool.Close()
		dc.pool = nil
	}
	dc.mu.Unlock()

	return dc.reconnect(ctx)
}

func (dc *DatabaseClient) reconnect(ctx context.Context) error {
	if dc.config == nil {
		return fmt.Errorf("cannot connect: database configuration not available")
	}
	log := logger.GetLogger()

	delay := dc.retryDelay
	var lastErr error
	for attempt := 1; attempt <= dc.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pool, err := pgxpool.NewWithConfig(ctx, dc.config.Copy())
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				dc.mu.Lock()
				dc.pool = pool
				dc.mu.Unlock()
				if attempt > 1 {
					log.Infow("Connected to database after retries", "attempt", attempt)
				}
				return nil
			}
			pool.Close()
		}
		lastErr = err

		log.Warnw("Database connection attempt failed",
			"attempt", attempt,
			"max_attempts", dc.maxRetries,
			"error", err)

		if attempt < dc.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = delay * 3 / 2
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", dc.maxRetries, lastErr)
}

// Close releases every pooled connection.
func (dc *DatabaseClient) Close() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.pool != nil {
		dc.pool.Close()
		dc.pool = nil
	}
}
