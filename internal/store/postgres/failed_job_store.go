package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/store"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/google/uuid"
)

// FailedJobStore implements store.FailedJobStore on the failed_jobs table.
type FailedJobStore struct {
	db DBTX
}

var _ store.FailedJobStore = (*FailedJobStore)(nil)

// NewFailedJobStore creates a new FailedJobStore instance
func NewFailedJobStore(db DBTX) *FailedJobStore {
	return &FailedJobStore{db: db}
}

func (s *FailedJobStore) RecordFailedJob(ctx context.Context, job types.FailedJob) error {
	if job.Queue == "" {
		return fmt.Errorf("%w: failed job queue is required", store.ErrInvalidEntry)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.FailedAt.IsZero() {
		job.FailedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO failed_jobs (id, queue, payload, exception, failed_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.Exec(ctx, query, job.ID, job.Queue, job.Payload, job.Exception, job.FailedAt); err != nil {
		return fmt.Errorf("error recording failed job: %w", err)
	}
	return nil
}

func (s *FailedJobStore) CountFailedJobs(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting failed jobs: %w", err)
	}
	return count, nil
}
