// Package handlers contains the HTTP handlers for the health, metrics and
// chat endpoints.
package handlers

import (
	"context"
	"net/http"

	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/gin-gonic/gin"
)

// HealthChecker runs the full probe table.
type HealthChecker interface {
	RunCheck(ctx context.Context) types.HealthReport
}

type HealthHandler struct {
	health HealthChecker
}

func NewHealthHandler(health HealthChecker) *HealthHandler {
	return &HealthHandler{health: health}
}

// DetailedHealth godoc
// @Summary Application health report
// @Description Probes every backing service and aggregates the results
// @Tags health
// @Produce json
// @Success 200 {object} types.HealthReport "Healthy or degraded"
// @Failure 503 {object} types.HealthReport "At least one service is unhealthy"
// @Failure 429 {object} map[string]interface{} "Too many health checks"
// @Router /health [get]
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	report := h.health.RunCheck(c.Request.Context())
	c.JSON(report.HTTPStatus, report)
}

// LivenessCheck handles the kubernetes liveness probe. It never touches
// backing services.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}

// ReadinessCheck answers with the overall status only.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	report := h.health.RunCheck(c.Request.Context())
	c.JSON(report.HTTPStatus, gin.H{"status": report.Status})
}
