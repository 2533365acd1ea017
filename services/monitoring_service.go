package services

import (
	"context"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/store"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/types"
	"go.uber.org/zap"
)

const recordTimeout = 5 * time.Second

// MonitoringService writes monitoring entries off the request path. It
// satisfies the recorder interfaces of the cache, db and middleware packages.
type MonitoringService struct {
	store store.MonitoringStore
	pool  *WorkerPool
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewMonitoringService(s store.MonitoringStore, pool *WorkerPool) *MonitoringService {
	return &MonitoringService{
		store: s,
		pool:  pool,
		log:   logger.GetLogger().Named("monitoring"),
		now:   time.Now,
	}
}

// Record queues one entry. Entries are dropped when the pool is full or
// stopped; monitoring must never slow down the caller.
func (m *MonitoringService) Record(entryType string, value float64, metadata map[string]interface{}) {
	if m == nil || m.store == nil {
		return
	}
	entry := types.MonitoringEntry{
		Type:      entryType,
		Value:     value,
		Metadata:  metadata,
		CreatedAt: m.now().UTC(),
	}

	if m.pool == nil {
		m.write(context.Background(), entry)
		return
	}
	m.pool.Submit(Job{
		Name: "monitoring:" + entryType,
		Execute: func(ctx context.Context) error {
			return m.write(ctx, entry)
		},
	})
}

func (m *MonitoringService) write(ctx context.Context, entry types.MonitoringEntry) error {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := m.store.RecordEntry(ctx, entry); err != nil {
		m.log.Debugw("Failed to record monitoring entry", "type", entry.Type, "error", err)
		return err
	}
	return nil
}

// Prune removes entries older than retention.
func (m *MonitoringService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := m.store.PruneBefore(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Infow("Pruned monitoring entries", "count", n, "retention", retention)
	}
	return n, nil
}
