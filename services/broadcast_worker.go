package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/broadcast"
	"github.com/NomadCrew/chatpulse-backend/internal/queue"
	"github.com/NomadCrew/chatpulse-backend/internal/store"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/types"
	"go.uber.org/zap"
)

// SupervisorHeartbeater keeps a supervisor entry alive in the registry.
type SupervisorHeartbeater interface {
	Heartbeat(ctx context.Context, sup types.Supervisor, ttl time.Duration) error
	Remove(ctx context.Context, name string) error
}

// BroadcastWorkerConfig controls retries and the supervisor heartbeat.
type BroadcastWorkerConfig struct {
	Queue         string
	Channel       string
	Tries         int
	Backoff       []time.Duration
	PollTimeout   time.Duration
	SupervisorTTL time.Duration
}

// DefaultBroadcastWorkerConfig allows two tries with a 5s then 10s backoff.
func DefaultBroadcastWorkerConfig() BroadcastWorkerConfig {
	return BroadcastWorkerConfig{
		Queue:         BroadcastQueue,
		Channel:       "chat-room",
		Tries:         2,
		Backoff:       []time.Duration{5 * time.Second, 10 * time.Second},
		PollTimeout:   5 * time.Second,
		SupervisorTTL: 30 * time.Second,
	}
}

// BroadcastWorker consumes the broadcasts queue and publishes each message.
type BroadcastWorker struct {
	queue       queue.Queue
	broadcaster broadcast.Broadcaster
	chat        *ChatService
	failed      store.FailedJobStore
	supervisors SupervisorHeartbeater
	cfg         BroadcastWorkerConfig
	name        string
	log         *zap.SugaredLogger
}

// NewBroadcastWorker creates a worker. failed, chat and supervisors may be nil.
func NewBroadcastWorker(
	q queue.Queue,
	b broadcast.Broadcaster,
	chat *ChatService,
	failed store.FailedJobStore,
	supervisors SupervisorHeartbeater,
	cfg BroadcastWorkerConfig,
) *BroadcastWorker {
	def := DefaultBroadcastWorkerConfig()
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.Tries <= 0 {
		cfg.Tries = def.Tries
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.SupervisorTTL <= 0 {
		cfg.SupervisorTTL = def.SupervisorTTL
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "chatpulse"
	}

	return &BroadcastWorker{
		queue:       q,
		broadcaster: b,
		chat:        chat,
		failed:      failed,
		supervisors: supervisors,
		cfg:         cfg,
		name:        fmt.Sprintf("%s:%s", host, cfg.Queue),
		log:         logger.GetLogger().Named("broadcast-worker"),
	}
}

// Name is the supervisor name this worker registers under.
func (w *BroadcastWorker) Name() string {
	return w.name
}

// Run consumes jobs until ctx is cancelled.
func (w *BroadcastWorker) Run(ctx context.Context) error {
	w.log.Infow("Broadcast worker started", "queue", w.cfg.Queue, "supervisor", w.name)

	if w.supervisors != nil {
		w.heartbeat(ctx)
		go w.heartbeatLoop(ctx)
		defer func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := w.supervisors.Remove(rmCtx, w.name); err != nil {
				w.log.Warnw("Failed to remove supervisor entry", "supervisor", w.name, "error", err)
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			w.log.Info("Broadcast worker stopping")
			return nil
		}

		payload, err := w.queue.Pop(ctx, w.cfg.Queue, w.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			w.log.Errorw("Failed to pop job", "queue", w.cfg.Queue, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		w.Process(ctx, payload)
	}
}

func (w *BroadcastWorker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SupervisorTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.heartbeat(ctx)
		}
	}
}

func (w *BroadcastWorker) heartbeat(ctx context.Context) {
	sup := types.Supervisor{
		Name:      w.name,
		Status:    "running",
		Processes: 1,
		Queues:    []string{w.cfg.Queue},
	}
	if err := w.supervisors.Heartbeat(ctx, sup, w.cfg.SupervisorTTL); err != nil && ctx.Err() == nil {
		w.log.Warnw("Supervisor heartbeat failed", "supervisor", w.name, "error", err)
	}
}

// Process handles one raw job: broadcast, retry with backoff, or record the
// job as failed once its tries are spent.
func (w *BroadcastWorker) Process(ctx context.Context, payload []byte) {
	var job types.QueuedChatMessage
	if err := json.Unmarshal(payload, &job); err != nil {
		w.log.Errorw("Discarding undecodable job", "queue", w.cfg.Queue, "error", err)
		w.recordFailure(ctx, payload, err)
		return
	}
	job.Attempts++

	w.log.Infow("Processing broadcast message",
		"userKey", job.UserKey,
		"messageLength", len(job.Message),
		"queue", w.cfg.Queue,
		"attempt", job.Attempts)

	err := w.handle(ctx, job)
	if err == nil {
		w.log.Infow("Broadcast message processed successfully", "userKey", job.UserKey)
		return
	}

	w.log.Errorw("Failed to process broadcast message",
		"userKey", job.UserKey,
		"error", err,
		"attempt", job.Attempts)

	if job.Attempts < w.cfg.Tries {
		w.retry(ctx, job)
		return
	}

	preview := job.Message
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	w.log.Errorw("Broadcast job failed permanently",
		"userKey", job.UserKey,
		"messagePreview", preview,
		"error", err,
		"attempts", job.Attempts)

	raw, mErr := json.Marshal(job)
	if mErr != nil {
		raw = payload
	}
	w.recordFailure(ctx, raw, err)
}

func (w *BroadcastWorker) handle(ctx context.Context, job types.QueuedChatMessage) error {
	if w.chat != nil {
		if err := w.chat.ProcessMessageAnalytics(ctx, job.ChatMessage); err != nil {
			return err
		}
	}
	if err := w.broadcaster.Broadcast(ctx, w.cfg.Channel, EventMessageSent, job.ChatMessage); err != nil {
		return err
	}
	if w.chat != nil {
		w.chat.recordBroadcast(w.cfg.Channel, EventMessageSent)
	}
	return nil
}

func (w *BroadcastWorker) backoff(attempt int) time.Duration {
	if attempt-1 < len(w.cfg.Backoff) {
		return w.cfg.Backoff[attempt-1]
	}
	return w.cfg.Backoff[len(w.cfg.Backoff)-1]
}

func (w *BroadcastWorker) retry(ctx context.Context, job types.QueuedChatMessage) {
	raw, err := json.Marshal(job)
	if err != nil {
		w.recordFailure(ctx, nil, err)
		return
	}
	delay := w.backoff(job.Attempts)
	if err := w.queue.Later(ctx, w.cfg.Queue, raw, delay); err != nil {
		w.log.Errorw("Failed to schedule retry", "queue", w.cfg.Queue, "error", err)
		w.recordFailure(ctx, raw, err)
	}
}

func (w *BroadcastWorker) recordFailure(ctx context.Context, payload []byte, cause error) {
	if w.failed == nil {
		return
	}
	err := w.failed.RecordFailedJob(ctx, types.FailedJob{
		Queue:     w.cfg.Queue,
		Payload:   payload,
		Exception: cause.Error(),
	})
	if err != nil {
		w.log.Errorw("Failed to record failed job", "queue", w.cfg.Queue, "error", err)
	}
}
