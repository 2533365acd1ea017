// Package queue implements the named job queues and the supervisor registry
// reported by the horizon health probe.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/NomadCrew/chatpulse-backend/types"
)

// ErrEmpty is returned by Pop when no job arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Sizer reports the number of pending jobs on a named queue.
type Sizer interface {
	Size(ctx context.Context, queue string) (int64, error)
}

// Queue is a FIFO job queue with delayed release.
type Queue interface {
	Sizer
	Push(ctx context.Context, queue string, payload []byte) error
	// Later schedules payload to become available after delay.
	Later(ctx context.Context, queue string, payload []byte, delay time.Duration) error
	// Pop blocks up to timeout for the next available job.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	// Connection names the backing implementation.
	Connection() string
}

// SupervisorLister lists the worker supervisors currently alive.
type SupervisorLister interface {
	All(ctx context.Context) ([]types.Supervisor, error)
}
