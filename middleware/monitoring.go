package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/NomadCrew/chatpulse-backend/services"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/gin-gonic/gin"
)

// RequestMonitor feeds the monitoring log: one user_request per request,
// slow_request when the handler took at least slowThreshold, and exception
// for 5xx responses or panics. A 503 from a health route reports backend state
// and is not an exception. A nil recorder disables it.
func RequestMonitor(recorder services.EventRecorder, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if recorder == nil {
			c.Next()
			return
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				recorder.Record(types.EntryException, 1, requestMetadata(c, http.StatusInternalServerError))
				panic(r)
			}
		}()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		meta := requestMetadata(c, status)

		recorder.Record(types.EntryUserRequest, 1, map[string]interface{}{"key": ClientKey(c)})
		if slowThreshold > 0 && elapsed >= slowThreshold {
			slow := requestMetadata(c, status)
			slow["key"] = c.Request.Method + " " + slow["route"].(string)
			recorder.Record(types.EntrySlowRequest, types.RoundMs(elapsed), slow)
		}
		if status >= http.StatusInternalServerError && !isHealthRoute(meta["route"].(string)) {
			recorder.Record(types.EntryException, 1, meta)
		}
	}
}

func isHealthRoute(route string) bool {
	return route == "/health" || strings.HasPrefix(route, "/health/")
}

func requestMetadata(c *gin.Context, status int) map[string]interface{} {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	meta := map[string]interface{}{
		"method":      c.Request.Method,
		"route":       route,
		"status_code": status,
	}
	if id := c.GetString(RequestIDKey); id != "" {
		meta["request_id"] = id
	}
	return meta
}
