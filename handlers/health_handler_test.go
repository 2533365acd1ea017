package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHealthChecker struct {
	mock.Mock
}

func (m *mockHealthChecker) RunCheck(ctx context.Context) types.HealthReport {
	return m.Called(ctx).Get(0).(types.HealthReport)
}

func sampleReport(status types.HealthStatus, code int) types.HealthReport {
	checks := types.NewChecks(2)
	checks.Add(types.ProbeResult{Service: "database", Status: types.HealthStatusHealthy, Message: "Database connection successful"})
	checks.Add(types.ProbeResult{Service: "queue_backlogs", Status: status, Message: "Queue backlogs"})
	return types.HealthReport{
		Status:      overallFor(status),
		HTTPStatus:  code,
		Timestamp:   "2024-03-01T12:00:00.000Z",
		Checks:      checks,
		Version:     "1.0.0",
		Environment: "testing",
		Uptime:      "00:00:10",
	}
}

func overallFor(s types.HealthStatus) types.HealthStatus {
	if s == types.HealthStatusUnhealthy {
		return types.HealthStatusUnhealthy
	}
	return types.HealthStatusHealthy
}

func setupHealthRouter(checker HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(checker)
	r := gin.New()
	r.GET("/health", h.DetailedHealth)
	r.GET("/health/liveness", h.LivenessCheck)
	r.GET("/health/readiness", h.ReadinessCheck)
	return r
}

func TestHealthHandler_DetailedHealth(t *testing.T) {
	tests := []struct {
		name       string
		status     types.HealthStatus
		code       int
		wantStatus string
	}{
		{name: "healthy", status: types.HealthStatusHealthy, code: http.StatusOK, wantStatus: "healthy"},
		{name: "warning stays 200", status: types.HealthStatusWarning, code: http.StatusOK, wantStatus: "healthy"},
		{name: "unhealthy is 503", status: types.HealthStatusUnhealthy, code: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{}
			checker.On("RunCheck", mock.Anything).Return(sampleReport(tt.status, tt.code)).Once()

			w := httptest.NewRecorder()
			setupHealthRouter(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, "2024-03-01T12:00:00.000Z", body["timestamp"])
			assert.Equal(t, "00:00:10", body["uptime"])
			assert.NotContains(t, body, "HTTPStatus")

			checks := body["checks"].(map[string]interface{})
			backlog := checks["queue_backlogs"].(map[string]interface{})
			assert.Equal(t, string(tt.status), backlog["status"])
			checker.AssertExpectations(t)
		})
	}
}

func TestHealthHandler_CheckOrderIsPreserved(t *testing.T) {
	checker := &mockHealthChecker{}
	checker.On("RunCheck", mock.Anything).Return(sampleReport(types.HealthStatusHealthy, http.StatusOK))

	w := httptest.NewRecorder()
	setupHealthRouter(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	body := w.Body.String()
	assert.Less(t, strings.Index(body, `"database"`), strings.Index(body, `"queue_backlogs"`))
}

func TestHealthHandler_Liveness(t *testing.T) {
	checker := &mockHealthChecker{}

	w := httptest.NewRecorder()
	setupHealthRouter(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/liveness", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	checker.AssertNotCalled(t, "RunCheck", mock.Anything)
}

func TestHealthHandler_Readiness(t *testing.T) {
	checker := &mockHealthChecker{}
	checker.On("RunCheck", mock.Anything).Return(sampleReport(types.HealthStatusUnhealthy, http.StatusServiceUnavailable))

	w := httptest.NewRecorder()
	setupHealthRouter(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/readiness", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy"}`, w.Body.String())
}
