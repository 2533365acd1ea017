package types

import "time"

// Monitoring entry types written to the monitoring_entries table.
const (
	EntrySlowQuery             = "slow_query"
	EntrySlowRequest           = "slow_request"
	EntryUserRequest           = "user_request"
	EntryCacheHit              = "cache_hit"
	EntryCacheMiss             = "cache_miss"
	EntryException             = "exception"
	EntryChatMessage           = "chat_message"
	EntryChatRateLimits        = "chat_rate_limits"
	EntryChatErrors            = "chat_errors"
	EntryMessageProcessingTime = "message_processing_time"
	EntryBroadcastEvent        = "broadcast_event"
)

// MonitoringEntry is a single row of the monitoring event log.
type MonitoringEntry struct {
	ID        int64                  `json:"id"`
	Type      string                 `json:"type"`
	Value     float64                `json:"value"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// FailedJob is a queued job that exhausted its attempts.
type FailedJob struct {
	ID        string    `json:"id"`
	Queue     string    `json:"queue"`
	Payload   []byte    `json:"payload"`
	Exception string    `json:"exception"`
	FailedAt  time.Time `json:"failed_at"`
}
