package router

import (
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	apperrors "github.com/NomadCrew/chatpulse-backend/errors"
	"github.com/NomadCrew/chatpulse-backend/handlers"
	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/internal/websocket"
	"github.com/NomadCrew/chatpulse-backend/middleware"
	"github.com/NomadCrew/chatpulse-backend/services"
	"github.com/gin-gonic/gin"
)

// Dependencies holds everything required to build the routes.
type Dependencies struct {
	Config         *config.Config
	HealthHandler  *handlers.HealthHandler
	MetricsHandler *handlers.MetricsHandler
	ChatHandler    *handlers.ChatHandler
	// WSHandler is optional; /chat/ws is only mounted when a hub runs.
	WSHandler   *websocket.Handler
	Registry    *metrics.Registry
	RateLimiter services.RateLimiterInterface
	Recorder    services.EventRecorder
}

// SetupRouter configures the gin engine with middleware and routes.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	cfg := deps.Config

	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.SecurityHeadersMiddleware(&cfg.Server))
	r.Use(middleware.CORSMiddleware(&cfg.Server))
	r.Use(middleware.PrometheusMiddleware(deps.Registry, cfg.Metrics.Namespace))
	r.Use(middleware.RequestMonitor(deps.Recorder, time.Duration(cfg.Metrics.SlowRequestMs)*time.Millisecond))
	r.Use(middleware.ErrorHandler())

	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second

	// Health and metrics routes. Both probe-running routes share one per-IP budget.
	healthLimit := middleware.IPRateLimiter(deps.RateLimiter, "health", cfg.RateLimit.HealthPerMinute, window)
	r.GET("/health", healthLimit, deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", healthLimit, deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", deps.MetricsHandler.Metrics)

	// Chat routes; /notify is throttled per user inside the chat service.
	r.POST("/notify", deps.ChatHandler.Notify)
	chat := r.Group("/chat")
	{
		chat.GET("/stats", deps.ChatHandler.Stats)
		if deps.WSHandler != nil {
			chat.GET("/ws", deps.WSHandler.HandleWebSocket)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperrors.New(apperrors.NotFoundError, "Route not found", c.Request.URL.Path))
	})

	return r
}
