package queue

import (
	"context"
	"sync"
	"time"
)

type delayedJob struct {
	payload   []byte
	releaseAt time.Time
}

// MemoryQueue is an in-process Queue for development and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   map[string][][]byte
	delayed map[string][]delayedJob
	signal  map[string]chan struct{}
	now     func() time.Time
}

// NewMemoryQueue creates an empty in-memory Queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:   make(map[string][][]byte),
		delayed: make(map[string][]delayedJob),
		signal:  make(map[string]chan struct{}),
		now:     time.Now,
	}
}

func (q *MemoryQueue) Connection() string {
	return "memory"
}

// signalLocked returns the wake-up channel for queue. q.mu must be held.
func (q *MemoryQueue) signalLocked(queue string) chan struct{} {
	ch, ok := q.signal[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		q.signal[queue] = ch
	}
	return ch
}

func (q *MemoryQueue) Push(_ context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	q.ready[queue] = append(q.ready[queue], payload)
	ch := q.signalLocked(queue)
	q.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Later(_ context.Context, queue string, payload []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[queue] = append(q.delayed[queue], delayedJob{payload: payload, releaseAt: q.now().Add(delay)})
	return nil
}

func (q *MemoryQueue) Size(_ context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready[queue]) + len(q.delayed[queue])), nil
}

func (q *MemoryQueue) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		q.releaseDueLocked(queue)
		if jobs := q.ready[queue]; len(jobs) > 0 {
			job := jobs[0]
			q.ready[queue] = jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		ch := q.signalLocked(queue)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrEmpty
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			// poll for delayed jobs becoming due
		}
	}
}

func (q *MemoryQueue) releaseDueLocked(queue string) {
	now := q.now()
	pending := q.delayed[queue][:0]
	for _, job := range q.delayed[queue] {
		if !now.Before(job.releaseAt) {
			q.ready[queue] = append(q.ready[queue], job.payload)
			continue
		}
		pending = append(pending, job)
	}
	q.delayed[queue] = pending
}
