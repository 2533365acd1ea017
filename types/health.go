package types

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

type HealthStatus string

const (
	HealthStatusHealthy       HealthStatus = "healthy"
	HealthStatusWarning       HealthStatus = "warning"
	HealthStatusUnhealthy     HealthStatus = "unhealthy"
	HealthStatusNotConfigured HealthStatus = "not_configured"
	HealthStatusNotInstalled  HealthStatus = "not_installed"
)

// Valid reports whether s is one of the known status values.
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthStatusHealthy, HealthStatusWarning, HealthStatusUnhealthy,
		HealthStatusNotConfigured, HealthStatusNotInstalled:
		return true
	}
	return false
}

// Absent reports whether the probed target is intentionally not deployed.
func (s HealthStatus) Absent() bool {
	return s == HealthStatusNotConfigured || s == HealthStatusNotInstalled
}

// ProbeResult is the outcome of a single service probe.
type ProbeResult struct {
	Service        string
	Status         HealthStatus
	Message        string
	ResponseTimeMs *float64
	Error          string
	Details        map[string]interface{}
}

// SetResponseTime stores the elapsed duration in milliseconds rounded to two decimals.
func (r *ProbeResult) SetResponseTime(d time.Duration) {
	ms := RoundMs(d)
	r.ResponseTimeMs = &ms
}

// WithDetail sets a single detail key and returns the result for chaining.
func (r ProbeResult) WithDetail(key string, value interface{}) ProbeResult {
	if r.Details == nil {
		r.Details = make(map[string]interface{})
	}
	r.Details[key] = value
	return r
}

// MarshalJSON flattens Details into the check object next to the fixed fields.
func (r ProbeResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Details)+4)
	for k, v := range r.Details {
		out[k] = v
	}
	out["status"] = r.Status
	out["message"] = r.Message
	if r.ResponseTimeMs != nil {
		out["response_time_ms"] = *r.ResponseTimeMs
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// Checks is an insertion-ordered mapping of service name to probe result.
type Checks struct {
	names   []string
	results map[string]ProbeResult
}

// NewChecks returns an empty Checks sized for n services.
func NewChecks(n int) *Checks {
	return &Checks{
		names:   make([]string, 0, n),
		results: make(map[string]ProbeResult, n),
	}
}

// Add appends a result keyed by its service name. Re-adding a service
// replaces the stored result but keeps its original position.
func (c *Checks) Add(r ProbeResult) {
	if _, ok := c.results[r.Service]; !ok {
		c.names = append(c.names, r.Service)
	}
	c.results[r.Service] = r
}

// Get returns the result for a service.
func (c *Checks) Get(service string) (ProbeResult, bool) {
	r, ok := c.results[service]
	return r, ok
}

// Names returns the service names in insertion order.
func (c *Checks) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of stored results.
func (c *Checks) Len() int {
	return len(c.names)
}

// Each calls fn for every result in insertion order.
func (c *Checks) Each(fn func(ProbeResult)) {
	for _, name := range c.names {
		fn(c.results[name])
	}
}

func (c *Checks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.results[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// HealthReport is the aggregated result of one health check run.
type HealthReport struct {
	Status           HealthStatus `json:"status"`
	HTTPStatus       int          `json:"-"`
	Timestamp        string       `json:"timestamp"`
	Checks           *Checks      `json:"checks"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
	Version          string       `json:"version"`
	Environment      string       `json:"environment"`
	Uptime           string       `json:"uptime"`
}

// Supervisor describes one registered queue worker supervisor.
type Supervisor struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Processes int      `json:"processes"`
	Queues    []string `json:"queues"`
}

// RoundMs converts d to milliseconds rounded to two decimal places.
func RoundMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
