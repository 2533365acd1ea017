package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticProbe(status types.HealthStatus) ProbeFunc {
	return func(context.Context) types.ProbeResult {
		r := types.ProbeResult{Status: status, Message: string(status)}
		if status == types.HealthStatusUnhealthy {
			r.Error = "failed"
		}
		if status == types.HealthStatusHealthy || status == types.HealthStatusUnhealthy {
			r.SetResponseTime(1500 * time.Microsecond)
		}
		return r
	}
}

// table builds the seven-service table with the given statuses.
func table(statuses map[string]types.HealthStatus) []ProbeSpec {
	specs := NewProbeTable(ProbeDeps{})
	for i := range specs {
		s, ok := statuses[specs[i].Name]
		if !ok {
			s = types.HealthStatusHealthy
		}
		specs[i].Probe = staticProbe(s)
	}
	return specs
}

func newTestHealthService(probes []ProbeSpec, reg *metrics.Registry) *HealthService {
	return NewHealthService(probes, reg, HealthConfig{
		Version:     "1.2.3",
		Environment: "testing",
		Namespace:   "chatpulse",
		StartTime:   time.Now().Add(-3725 * time.Second),
	})
}

func TestHealthService_StatusPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		statuses   map[string]types.HealthStatus
		wantStatus types.HealthStatus
		wantHTTP   int
	}{
		{
			name:       "all healthy",
			wantStatus: types.HealthStatusHealthy,
			wantHTTP:   http.StatusOK,
		},
		{
			name:       "absent services do not degrade",
			statuses:   map[string]types.HealthStatus{"horizon": types.HealthStatusNotInstalled, "redis": types.HealthStatusNotConfigured},
			wantStatus: types.HealthStatusHealthy,
			wantHTTP:   http.StatusOK,
		},
		{
			name:       "warning keeps 200",
			statuses:   map[string]types.HealthStatus{"queue_backlogs": types.HealthStatusWarning},
			wantStatus: types.HealthStatusHealthy,
			wantHTTP:   http.StatusOK,
		},
		{
			name:       "critical unhealthy",
			statuses:   map[string]types.HealthStatus{"database": types.HealthStatusUnhealthy},
			wantStatus: types.HealthStatusUnhealthy,
			wantHTTP:   http.StatusServiceUnavailable,
		},
		{
			name:       "non-critical unhealthy",
			statuses:   map[string]types.HealthStatus{"redis": types.HealthStatusUnhealthy},
			wantStatus: types.HealthStatusUnhealthy,
			wantHTTP:   http.StatusServiceUnavailable,
		},
		{
			name:       "horizon without supervisors",
			statuses:   map[string]types.HealthStatus{"horizon": types.HealthStatusUnhealthy, "queue_backlogs": types.HealthStatusWarning},
			wantStatus: types.HealthStatusUnhealthy,
			wantHTTP:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestHealthService(table(tt.statuses), nil)
			report := svc.RunCheck(context.Background())

			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, tt.wantHTTP, report.HTTPStatus)
			assert.Equal(t, 7, report.Checks.Len())
		})
	}
}

func TestHealthService_ReportShape(t *testing.T) {
	svc := newTestHealthService(table(nil), nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 123000000, time.UTC) }
	svc.startTime = svc.now().Add(-(25*time.Hour + 2*time.Minute + 3*time.Second))

	report := svc.RunCheck(context.Background())

	assert.Equal(t, "2024-03-01T12:00:00.123Z", report.Timestamp)
	assert.Equal(t, "25:02:03", report.Uptime)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, "testing", report.Environment)
	assert.GreaterOrEqual(t, report.ProcessingTimeMs, 0.0)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	body := string(raw)

	// Checks are serialized in probe order.
	order := []string{`"database"`, `"cache"`, `"queue"`, `"horizon"`, `"queue_backlogs"`, `"redis"`, `"broadcasting"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(body, key+":")
		require.Greater(t, idx, last, "key %s out of order", key)
		last = idx
	}
	assert.NotContains(t, body, "HTTPStatus")
	assert.Contains(t, body, `"response_time_ms":1.5`)
}

func TestHealthService_ProbeFailureDoesNotStopOthers(t *testing.T) {
	probes := table(nil)
	probes[0].Probe = func(context.Context) types.ProbeResult { panic("driver exploded") }

	svc := newTestHealthService(probes, nil)
	report := svc.RunCheck(context.Background())

	db, ok := report.Checks.Get(ServiceDatabase)
	require.True(t, ok)
	assert.Equal(t, types.HealthStatusUnhealthy, db.Status)
	assert.Equal(t, 7, report.Checks.Len())

	redis, ok := report.Checks.Get(ServiceRedis)
	require.True(t, ok)
	assert.Equal(t, types.HealthStatusHealthy, redis.Status)
}

func TestHealthService_RecordsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	svc := newTestHealthService(table(map[string]types.HealthStatus{
		"redis":   types.HealthStatusUnhealthy,
		"horizon": types.HealthStatusNotInstalled,
	}), reg)

	svc.RunCheck(context.Background())
	svc.RunCheck(context.Background())

	expected := `# HELP chatpulse_health_checks_total Total number of health checks performed
# TYPE chatpulse_health_checks_total counter
chatpulse_health_checks_total{status="unhealthy"} 2
# HELP chatpulse_app_health_status Overall application health status (1 = healthy, 0 = unhealthy)
# TYPE chatpulse_app_health_status gauge
chatpulse_app_health_status 0
`
	assert.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected),
		"chatpulse_health_checks_total", "chatpulse_app_health_status"))

	var buf bytes.Buffer
	require.NoError(t, reg.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, `chatpulse_service_health_status{service="database"} 1`)
	assert.Contains(t, out, `chatpulse_service_health_status{service="redis"} 0`)
	assert.Contains(t, out, `chatpulse_service_health_status{service="horizon"} 0`)
	assert.Contains(t, out, `chatpulse_service_response_time_ms{service="database"} 1.5`)
	assert.NotContains(t, out, `chatpulse_service_response_time_ms{service="horizon"}`)
	assert.Contains(t, out, "chatpulse_health_check_duration_ms_count 2")
}

func TestHealthService_EvaluateSkipsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	svc := newTestHealthService(table(nil), reg)

	svc.Evaluate(context.Background())

	var buf bytes.Buffer
	require.NoError(t, reg.Render(&buf))
	assert.Empty(t, buf.String())
}

func TestHealthService_MetricConflictIsSwallowed(t *testing.T) {
	reg := metrics.NewRegistry()
	_, err := reg.GetOrRegisterGauge("chatpulse", "health_checks_total", "conflict", nil)
	require.NoError(t, err)

	svc := newTestHealthService(table(nil), reg)
	report := svc.RunCheck(context.Background())

	assert.Equal(t, http.StatusOK, report.HTTPStatus)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatUptime(0))
	assert.Equal(t, "01:02:05", FormatUptime(time.Hour+2*time.Minute+5*time.Second+900*time.Millisecond))
	assert.Equal(t, "00:00:00", FormatUptime(-time.Second))
}
