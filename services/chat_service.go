package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/NomadCrew/chatpulse-backend/errors"
	"github.com/NomadCrew/chatpulse-backend/internal/broadcast"
	"github.com/NomadCrew/chatpulse-backend/internal/cache"
	"github.com/NomadCrew/chatpulse-backend/internal/queue"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// EventMessageSent is the broadcast event name for new chat messages.
	EventMessageSent = "MessageSent"
	// BroadcastQueue receives chat messages when queued delivery is enabled.
	BroadcastQueue = "broadcasts"

	chatRateLimitPrefix = "chat-messages:"
	chatBurstPrefix     = "chat-messages-burst:"

	// burstRetryAfter is the fixed retry hint sent when the burst limit trips.
	burstRetryAfter = 10

	slowDownMessage = "Too many messages sent. Please slow down."
)

// EventRecorder receives monitoring events.
type EventRecorder interface {
	Record(entryType string, value float64, metadata map[string]interface{})
}

// ChatConfig controls message validation, throttling and delivery.
type ChatConfig struct {
	Queued           bool
	MaxMessageLength int
	PerMinute        int
	// BurstPerMinute is a tighter second limit checked after PerMinute.
	BurstPerMinute   int
	Window           time.Duration
	Channel          string
}

// ChatService accepts chat messages and hands them to the broadcaster,
// either directly or through the broadcasts queue.
type ChatService struct {
	limiter     RateLimiterInterface
	broadcaster broadcast.Broadcaster
	queue       queue.Queue
	cache       cache.Store
	recorder    EventRecorder
	pool        *WorkerPool
	cfg         ChatConfig
	log         *zap.SugaredLogger
	now         func() time.Time
}

func NewChatService(
	limiter RateLimiterInterface,
	broadcaster broadcast.Broadcaster,
	q queue.Queue,
	c cache.Store,
	recorder EventRecorder,
	pool *WorkerPool,
	cfg ChatConfig,
) *ChatService {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 500
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 30
	}
	if cfg.BurstPerMinute <= 0 {
		cfg.BurstPerMinute = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Channel == "" {
		cfg.Channel = "chat-room"
	}
	return &ChatService{
		limiter:     limiter,
		broadcaster: broadcaster,
		queue:       q,
		cache:       c,
		recorder:    recorder,
		pool:        pool,
		cfg:         cfg,
		log:         logger.GetLogger().Named("chat"),
		now:         time.Now,
	}
}

func (s *ChatService) record(entryType string, value float64, metadata map[string]interface{}) {
	if s.recorder != nil {
		s.recorder.Record(entryType, value, metadata)
	}
}

// Notify throttles, validates and dispatches one message from userKey.
func (s *ChatService) Notify(ctx context.Context, userKey, message string) (*types.NotifyResponse, error) {
	start := time.Now()

	limit := s.attempt(ctx, chatRateLimitPrefix+userKey, s.cfg.PerMinute)
	if !limit.Allowed {
		s.record(types.EntryChatRateLimits, 1, map[string]interface{}{"key": "rate_limit_hits"})
		return nil, apperrors.RateLimitExceeded(slowDownMessage, retrySeconds(limit.RetryAfter))
	}
	if burst := s.attempt(ctx, chatBurstPrefix+userKey, s.cfg.BurstPerMinute); !burst.Allowed {
		s.record(types.EntryChatRateLimits, 1, map[string]interface{}{"key": "burst_limit_hits"})
		return nil, apperrors.RateLimitExceeded(slowDownMessage, burstRetryAfter)
	}

	if err := s.validate(message); err != nil {
		return nil, err
	}

	msg := types.ChatMessage{
		ID:        uuid.NewString(),
		UserKey:   userKey,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	s.record(types.EntryChatMessage, 1, map[string]interface{}{"key": "messages_sent"})

	resp := &types.NotifyResponse{
		Success:            true,
		RateLimitRemaining: limit.Remaining,
	}

	if s.cfg.Queued {
		if err := s.enqueue(ctx, msg); err != nil {
			return nil, s.fail(userKey, apperrors.ServerError, err)
		}
		resp.Message = "Message queued for broadcast."
	} else {
		if err := s.broadcaster.Broadcast(ctx, s.cfg.Channel, EventMessageSent, msg); err != nil {
			return nil, s.fail(userKey, apperrors.BroadcastError, err)
		}
		s.recordBroadcast(s.cfg.Channel, EventMessageSent)
		resp.Message = "Message broadcast successfully."
	}

	s.deferAnalytics(msg, start, !s.cfg.Queued)
	return resp, nil
}

// attempt hits one limiter key. An unavailable limiter lets the message through.
func (s *ChatService) attempt(ctx context.Context, key string, limit int) RateLimitResult {
	res, err := s.limiter.Attempt(ctx, key, limit, s.cfg.Window)
	if err != nil {
		s.log.Warnw("Rate limiter unavailable, allowing message", "key", key, "error", err)
		return RateLimitResult{Allowed: true, Remaining: limit}
	}
	return res
}

// recordBroadcast logs a delivered broadcast as a monitoring entry.
func (s *ChatService) recordBroadcast(channel, event string) {
	s.record(types.EntryBroadcastEvent, 1, map[string]interface{}{
		"key":       event,
		"event":     event,
		"channels":  []string{channel},
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *ChatService) validate(message string) error {
	if strings.TrimSpace(message) == "" {
		return apperrors.ValidationFailed("The message field is required.", "message is empty")
	}
	if n := utf8.RuneCountInString(message); n > s.cfg.MaxMessageLength {
		return apperrors.ValidationFailed(
			fmt.Sprintf("The message field must not be greater than %d characters.", s.cfg.MaxMessageLength),
			fmt.Sprintf("message has %d characters", n))
	}
	return nil
}

func (s *ChatService) enqueue(ctx context.Context, msg types.ChatMessage) error {
	payload, err := json.Marshal(types.QueuedChatMessage{ChatMessage: msg, QueuedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}
	if err := s.queue.Push(ctx, BroadcastQueue, payload); err != nil {
		return fmt.Errorf("push to %s queue: %w", BroadcastQueue, err)
	}
	return nil
}

func (s *ChatService) fail(userKey string, errType apperrors.ErrorType, err error) error {
	s.record(types.EntryChatErrors, 1, map[string]interface{}{"key": "message_send_failures"})
	s.log.Errorw("Error sending chat message", "userKey", userKey, "error", err)
	return apperrors.Wrap(err, errType, "An internal server error occurred while sending the message.")
}

// deferAnalytics runs after the response is decided. Counters are only
// bumped here for direct delivery; the queue worker bumps them for queued
// messages.
func (s *ChatService) deferAnalytics(msg types.ChatMessage, start time.Time, counters bool) {
	job := Job{
		Name: "chat-analytics",
		Execute: func(ctx context.Context) error {
			elapsed := float64(time.Since(start)) / float64(time.Millisecond)
			s.log.Infow("Logging message analytics",
				"userKey", msg.UserKey,
				"messageLength", len(msg.Message),
				"processingTimeMs", elapsed)
			s.record(types.EntryMessageProcessingTime, elapsed, map[string]interface{}{"key": "message_processing_time"})
			if counters {
				return s.ProcessMessageAnalytics(ctx, msg)
			}
			return nil
		},
	}
	if s.pool == nil || !s.pool.Submit(job) {
		s.log.Debugw("Chat analytics skipped", "messageId", msg.ID)
	}
}

func userCountKey(userKey string) string {
	return "user_message_count_" + userKey
}

func dailyCountKey(day time.Time) string {
	return "daily_messages_" + day.Format("2006-01-02")
}

// ProcessMessageAnalytics bumps the per-user and per-day counters.
func (s *ChatService) ProcessMessageAnalytics(ctx context.Context, msg types.ChatMessage) error {
	if s.cache == nil {
		return nil
	}
	if _, err := s.cache.Increment(ctx, userCountKey(msg.UserKey)); err != nil {
		return fmt.Errorf("increment user counter: %w", err)
	}
	if _, err := s.cache.Increment(ctx, dailyCountKey(s.now().UTC())); err != nil {
		return fmt.Errorf("increment daily counter: %w", err)
	}
	return nil
}

// Stats reads the counters kept by ProcessMessageAnalytics.
func (s *ChatService) Stats(ctx context.Context, userKey string) (*types.ChatStats, error) {
	day := s.now().UTC()
	stats := &types.ChatStats{UserKey: userKey, Date: day.Format("2006-01-02")}
	if s.cache == nil {
		return stats, nil
	}

	var err error
	if stats.UserMessageCount, err = s.readCounter(ctx, userCountKey(userKey)); err != nil {
		return nil, err
	}
	if stats.DailyMessages, err = s.readCounter(ctx, dailyCountKey(day)); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *ChatService) readCounter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return 0, apperrors.ServiceUnavailable("Chat statistics are unavailable.", err)
	}
	if !ok {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscan(raw, &n); err != nil {
		return 0, fmt.Errorf("counter %s is not an integer: %w", key, err)
	}
	return n, nil
}

func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
