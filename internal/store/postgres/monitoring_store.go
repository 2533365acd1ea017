package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/store"
	"github.com/NomadCrew/chatpulse-backend/types"
)

// MonitoringStore implements store.MonitoringStore on the monitoring_entries table.
type MonitoringStore struct {
	db DBTX
}

var _ store.MonitoringStore = (*MonitoringStore)(nil)

// NewMonitoringStore creates a new MonitoringStore instance
func NewMonitoringStore(db DBTX) *MonitoringStore {
	return &MonitoringStore{db: db}
}

func (s *MonitoringStore) RecordEntry(ctx context.Context, entry types.MonitoringEntry) error {
	if entry.Type == "" {
		return fmt.Errorf("%w: monitoring entry type is required", store.ErrInvalidEntry)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("error encoding monitoring metadata: %w", err)
		}
	}

	query := `
		INSERT INTO monitoring_entries (type, value, metadata, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, entry.Type, entry.Value, metadata, entry.CreatedAt); err != nil {
		return fmt.Errorf("error recording monitoring entry: %w", err)
	}
	return nil
}

func (s *MonitoringStore) CountSince(ctx context.Context, entryType string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM monitoring_entries
		WHERE type = $1 AND created_at >= $2`

	var count int64
	if err := s.db.QueryRow(ctx, query, entryType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting %s entries: %w", entryType, err)
	}
	return count, nil
}

func (s *MonitoringStore) SumSince(ctx context.Context, entryType string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(value), 0)
		FROM monitoring_entries
		WHERE type = $1 AND created_at >= $2`

	var sum float64
	if err := s.db.QueryRow(ctx, query, entryType, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("error summing %s entries: %w", entryType, err)
	}
	return sum, nil
}

func (s *MonitoringStore) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM monitoring_entries WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("error pruning monitoring entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
