package types

import (
	"time"
)

// NotifyRequest is the body of POST /notify.
type NotifyRequest struct {
	Message string `json:"message"`
}

// NotifyResponse is returned after a message was accepted.
type NotifyResponse struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	RateLimitRemaining int    `json:"rate_limit_remaining"`
}

// ChatMessage is the payload pushed to chat-room subscribers.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserKey   string    `json:"user_key"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// QueuedChatMessage wraps a ChatMessage on the broadcasts queue.
type QueuedChatMessage struct {
	ChatMessage
	Attempts int       `json:"attempts"`
	QueuedAt time.Time `json:"queued_at"`
}

// ChatStats exposes the per-user and per-day counters kept in the cache.
type ChatStats struct {
	UserKey          string `json:"user_key"`
	UserMessageCount int64  `json:"user_message_count"`
	Date             string `json:"date"`
	DailyMessages    int64  `json:"daily_messages"`
}
