package middleware

import (
	"strconv"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/gin-gonic/gin"
)

// HTTPDurationBuckets are the request duration buckets in milliseconds.
var HTTPDurationBuckets = []float64{50, 100, 200, 500, 1000, 2000, 5000}

// PrometheusMiddleware counts requests and observes their duration, labelled
// by method, route template and status code. Recording failures are logged
// and never affect the response.
func PrometheusMiddleware(reg *metrics.Registry, namespace string) gin.HandlerFunc {
	log := logger.GetLogger().Named("http_metrics")
	labels := []string{"method", "route", "status_code"}

	requests, err := reg.GetOrRegisterCounter(namespace, "http_requests_total", "Total HTTP requests", labels)
	if err != nil {
		log.Warnw("HTTP request counter unavailable", "error", err)
	}
	duration, err := reg.GetOrRegisterHistogram(namespace, "http_request_duration_ms",
		"HTTP request duration in milliseconds", labels, HTTPDurationBuckets)
	if err != nil {
		log.Warnw("HTTP duration histogram unavailable", "error", err)
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		values := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)

		if requests != nil {
			if err := requests.Inc(values...); err != nil {
				log.Warnw("Failed to record HTTP request", "route", route, "error", err)
			}
		}
		if duration != nil {
			if err := duration.Observe(elapsed, values...); err != nil {
				log.Warnw("Failed to record HTTP duration", "route", route, "error", err)
			}
		}
	}
}
