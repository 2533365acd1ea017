package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/NomadCrew/chatpulse-backend/internal/metrics"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/NomadCrew/chatpulse-backend/types"
	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds a single probe when no timeout is configured.
const DefaultProbeTimeout = 2 * time.Second

// HealthConfig carries the report metadata and probe bounds.
type HealthConfig struct {
	Version      string
	Environment  string
	ProbeTimeout time.Duration
	Namespace    string
	StartTime    time.Time
}

type HealthService struct {
	probes    []ProbeSpec
	critical  map[string]bool
	cfg       HealthConfig
	registry  *metrics.Registry
	log       *zap.SugaredLogger
	now       func() time.Time
	startTime time.Time
}

// NewHealthService builds the aggregator over probes. A nil registry disables
// metric recording.
func NewHealthService(probes []ProbeSpec, registry *metrics.Registry, cfg HealthConfig) *HealthService {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}

	critical := make(map[string]bool, len(probes))
	for _, p := range probes {
		if p.Critical {
			critical[p.Name] = true
		}
	}

	return &HealthService{
		probes:    probes,
		critical:  critical,
		cfg:       cfg,
		registry:  registry,
		log:       logger.GetLogger().Named("health"),
		now:       time.Now,
		startTime: cfg.StartTime,
	}
}

// RunCheck probes every service, records the outcome as metrics and
// returns the report.
func (h *HealthService) RunCheck(ctx context.Context) types.HealthReport {
	report := h.Evaluate(ctx)
	h.safeRecord(report)
	return report
}

// Evaluate probes every service without touching the metrics registry.
func (h *HealthService) Evaluate(ctx context.Context) types.HealthReport {
	start := time.Now()

	checks := types.NewChecks(len(h.probes))
	for _, p := range h.probes {
		checks.Add(runProbe(ctx, p, h.cfg.ProbeTimeout))
	}

	overall := OverallStatus(checks)
	now := h.now()

	return types.HealthReport{
		Status:           overall,
		HTTPStatus:       DeriveHTTPStatus(checks, h.critical),
		Timestamp:        now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Checks:           checks,
		ProcessingTimeMs: types.RoundMs(time.Since(start)),
		Version:          h.cfg.Version,
		Environment:      h.cfg.Environment,
		Uptime:           FormatUptime(now.Sub(h.startTime)),
	}
}

// Probes returns the probe table in execution order.
func (h *HealthService) Probes() []ProbeSpec {
	return h.probes
}

// OverallStatus is unhealthy iff any check is unhealthy.
func OverallStatus(checks *types.Checks) types.HealthStatus {
	overall := types.HealthStatusHealthy
	checks.Each(func(r types.ProbeResult) {
		if r.Status == types.HealthStatusUnhealthy {
			overall = types.HealthStatusUnhealthy
		}
	})
	return overall
}

// DeriveHTTPStatus maps checks to 503 when a critical service is unhealthy
// and, under the strict policy, when any service is unhealthy. Warnings and
// absent services stay 200.
func DeriveHTTPStatus(checks *types.Checks, critical map[string]bool) int {
	for name := range critical {
		if r, ok := checks.Get(name); ok && r.Status == types.HealthStatusUnhealthy {
			return http.StatusServiceUnavailable
		}
	}
	if OverallStatus(checks) == types.HealthStatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// FormatUptime renders d as HH:MM:SS. Hours are not capped at 24.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// runProbe executes one probe under timeout and normalizes its result.
func runProbe(ctx context.Context, spec ProbeSpec, timeout time.Duration) types.ProbeResult {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan types.ProbeResult, 1)
	start := time.Now()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.GetLogger().Errorw("Health probe panicked", "service", spec.Name, "panic", rec)
				done <- types.ProbeResult{
					Status:  types.HealthStatusUnhealthy,
					Message: fmt.Sprintf("%s check failed: probe panicked", spec.Name),
					Error:   fmt.Sprint(rec),
				}
			}
		}()
		done <- spec.Probe(pctx)
	}()

	var res types.ProbeResult
	select {
	case res = <-done:
	case <-pctx.Done():
		res = types.ProbeResult{
			Status:  types.HealthStatusUnhealthy,
			Message: fmt.Sprintf("%s check timed out after %s", spec.Name, timeout),
			Error:   pctx.Err().Error(),
		}
		res.SetResponseTime(time.Since(start))
	}

	return normalize(spec.Name, res)
}

func normalize(service string, r types.ProbeResult) types.ProbeResult {
	r.Service = service
	if !r.Status.Valid() {
		r.Error = fmt.Sprintf("invalid probe status %q", r.Status)
		r.Status = types.HealthStatusUnhealthy
	}
	switch r.Status {
	case types.HealthStatusUnhealthy:
		if r.Error == "" {
			r.Error = r.Message
			if r.Error == "" {
				r.Error = "unhealthy"
			}
		}
	case types.HealthStatusHealthy:
		r.Error = ""
	}
	return r
}

// statusGaugeValue is 1 for healthy and 0 for everything else.
func statusGaugeValue(s types.HealthStatus) float64 {
	if s == types.HealthStatusHealthy {
		return 1
	}
	return 0
}

func (h *HealthService) safeRecord(report types.HealthReport) {
	if h.registry == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Errorw("Failed to record health metrics", "panic", rec)
		}
	}()
	if err := h.recordHealthMetrics(report); err != nil {
		h.log.Errorw("Failed to record health metrics", "error", err)
	}
}

func (h *HealthService) recordHealthMetrics(report types.HealthReport) error {
	ns := h.cfg.Namespace

	total, err := h.registry.GetOrRegisterCounter(ns, "health_checks_total", "Total number of health checks performed", []string{"status"})
	if err != nil {
		return err
	}
	if err := total.Inc(string(report.Status)); err != nil {
		return err
	}

	duration, err := h.registry.GetOrRegisterHistogram(ns, "health_check_duration_ms", "Duration of health checks in milliseconds", nil,
		[]float64{10, 50, 100, 250, 500, 1000, 2500, 5000})
	if err != nil {
		return err
	}
	if err := duration.Observe(report.ProcessingTimeMs); err != nil {
		return err
	}

	app, err := h.registry.GetOrRegisterGauge(ns, "app_health_status", "Overall application health status (1 = healthy, 0 = unhealthy)", nil)
	if err != nil {
		return err
	}
	if err := app.Set(statusGaugeValue(report.Status)); err != nil {
		return err
	}

	svc, err := h.registry.GetOrRegisterGauge(ns, "service_health_status", "Health status of individual services", []string{"service"})
	if err != nil {
		return err
	}
	rt, err := h.registry.GetOrRegisterGauge(ns, "service_response_time_ms", "Response time of individual services in milliseconds", []string{"service"})
	if err != nil {
		return err
	}

	var firstErr error
	report.Checks.Each(func(r types.ProbeResult) {
		if err := svc.Set(statusGaugeValue(r.Status), r.Service); err != nil && firstErr == nil {
			firstErr = err
		}
		if r.ResponseTimeMs != nil {
			if err := rt.Set(*r.ResponseTimeMs, r.Service); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
