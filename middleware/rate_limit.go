package middleware

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/NomadCrew/chatpulse-backend/errors"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/services"
	"github.com/gin-gonic/gin"
)

// UserKeyHeader identifies the chat user when the client provides one.
const UserKeyHeader = "X-User-Key"

// IPRateLimiter throttles requests per client IP. Keys are namespaced by
// scope so different routes keep separate budgets. A limiter error lets the
// request through.
func IPRateLimiter(limiter services.RateLimiterInterface, scope string, limit int, window time.Duration) gin.HandlerFunc {
	log := logger.GetLogger().Named("rate_limit")

	return func(c *gin.Context) {
		ip := getClientIP(c)
		key := scope + ":" + ip

		result, err := limiter.Attempt(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Warnw("Rate limiter unavailable, allowing request", "scope", scope, "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retry := int((result.RetryAfter + time.Second - 1) / time.Second)
			if retry < 1 {
				retry = 1
			}
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.RetryAfter).Unix(), 10))
			_ = c.Error(apperrors.RateLimitExceeded("Too many requests. Please try again later.", retry))
			c.Abort()
			return
		}

		c.Next()
	}
}

// ClientKey identifies the sender of a chat message: the X-User-Key header
// when present, the client IP otherwise.
func ClientKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(UserKeyHeader)); key != "" {
		return key
	}
	return getClientIP(c)
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func getClientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}
