package store

import (
	"context"
	"time"

	"github.com/NomadCrew/chatpulse-backend/types"
)

// MonitoringStore persists and aggregates the monitoring event log.
type MonitoringStore interface {
	RecordEntry(ctx context.Context, entry types.MonitoringEntry) error
	// CountSince counts entries of entryType created at or after since.
	CountSince(ctx context.Context, entryType string, since time.Time) (int64, error)
	// SumSince sums the value of entries of entryType created at or after since.
	SumSince(ctx context.Context, entryType string, since time.Time) (float64, error)
	// PruneBefore deletes entries older than before and returns how many were removed.
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// FailedJobStore persists jobs that exhausted their attempts.
type FailedJobStore interface {
	RecordFailedJob(ctx context.Context, job types.FailedJob) error
	CountFailedJobs(ctx context.Context) (int64, error)
}
