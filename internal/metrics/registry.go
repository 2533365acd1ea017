// Package metrics provides an injectable Prometheus registry with
// get-or-register semantics for counters, gauges and histograms.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ErrMetricMismatch is returned when a name is reused with a different kind or label set.
var ErrMetricMismatch = errors.New("metric already registered with a different kind or labels")

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

type entry struct {
	kind   kind
	labels []string
	handle interface{}
}

// Registry owns a prometheus.Registry and the handles registered on it.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	reg     *prometheus.Registry
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		reg:     prometheus.NewRegistry(),
		entries: make(map[string]*entry),
	}
}

// Gatherer exposes the underlying registry, e.g. for promhttp or testutil.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// MustRegister registers an externally built collector such as the Go runtime collector.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

// Counter is a monotonically increasing metric, one series per label combination.
type Counter struct {
	vec *prometheus.CounterVec
}

// Inc adds one to the series identified by labelValues.
func (c *Counter) Inc(labelValues ...string) error {
	return c.Add(1, labelValues...)
}

// Add adds v (which must be non-negative) to the series identified by labelValues.
func (c *Counter) Add(v float64, labelValues ...string) error {
	if v < 0 {
		return fmt.Errorf("counter cannot decrease: %v", v)
	}
	m, err := c.vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return err
	}
	m.Add(v)
	return nil
}

// Gauge holds the last value set per label combination.
type Gauge struct {
	vec *prometheus.GaugeVec
}

// Set overwrites the value of the series identified by labelValues.
func (g *Gauge) Set(v float64, labelValues ...string) error {
	m, err := g.vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return err
	}
	m.Set(v)
	return nil
}

// Histogram samples observations into configured buckets.
type Histogram struct {
	vec *prometheus.HistogramVec
}

// Observe records v in the series identified by labelValues.
func (h *Histogram) Observe(v float64, labelValues ...string) error {
	m, err := h.vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return err
	}
	m.Observe(v)
	return nil
}

// GetOrRegisterCounter returns the counter registered under namespace_name,
// creating it on first use.
func (r *Registry) GetOrRegisterCounter(namespace, name, help string, labels []string) (*Counter, error) {
	h, err := r.getOrRegister(namespace, name, kindCounter, labels, func(fq string) (prometheus.Collector, interface{}) {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fq,
			Help: help,
		}, labels)
		return vec, &Counter{vec: vec}
	})
	if err != nil {
		return nil, err
	}
	return h.(*Counter), nil
}

// GetOrRegisterGauge returns the gauge registered under namespace_name,
// creating it on first use.
func (r *Registry) GetOrRegisterGauge(namespace, name, help string, labels []string) (*Gauge, error) {
	h, err := r.getOrRegister(namespace, name, kindGauge, labels, func(fq string) (prometheus.Collector, interface{}) {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: fq,
			Help: help,
		}, labels)
		return vec, &Gauge{vec: vec}
	})
	if err != nil {
		return nil, err
	}
	return h.(*Gauge), nil
}

// GetOrRegisterHistogram returns the histogram registered under namespace_name,
// creating it on first use. Buckets are only applied on creation; nil means
// prometheus.DefBuckets.
func (r *Registry) GetOrRegisterHistogram(namespace, name, help string, labels []string, buckets []float64) (*Histogram, error) {
	h, err := r.getOrRegister(namespace, name, kindHistogram, labels, func(fq string) (prometheus.Collector, interface{}) {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fq,
			Help:    help,
			Buckets: buckets,
		}, labels)
		return vec, &Histogram{vec: vec}
	})
	if err != nil {
		return nil, err
	}
	return h.(*Histogram), nil
}

func (r *Registry) getOrRegister(
	namespace, name string,
	k kind,
	labels []string,
	build func(fqName string) (prometheus.Collector, interface{}),
) (interface{}, error) {
	fq := prometheus.BuildFQName(namespace, "", name)

	r.mu.RLock()
	e, ok := r.entries[fq]
	r.mu.RUnlock()
	if ok {
		return e.match(fq, k, labels)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have registered it between the locks.
	if e, ok := r.entries[fq]; ok {
		return e.match(fq, k, labels)
	}

	collector, handle := build(fq)
	if err := r.reg.Register(collector); err != nil {
		return nil, fmt.Errorf("register %s: %w", fq, err)
	}
	r.entries[fq] = &entry{
		kind:   k,
		labels: append([]string(nil), labels...),
		handle: handle,
	}
	return handle, nil
}

func (e *entry) match(fq string, k kind, labels []string) (interface{}, error) {
	if e.kind != k {
		return nil, fmt.Errorf("%w: %s is a %s, requested %s", ErrMetricMismatch, fq, e.kind, k)
	}
	if len(e.labels) != len(labels) {
		return nil, fmt.Errorf("%w: %s has labels %v, requested %v", ErrMetricMismatch, fq, e.labels, labels)
	}
	for i := range labels {
		if e.labels[i] != labels[i] {
			return nil, fmt.Errorf("%w: %s has labels %v, requested %v", ErrMetricMismatch, fq, e.labels, labels)
		}
	}
	return e.handle, nil
}

// ContentType is the media type of the text exposition format.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Render writes every gathered metric family to w in the text exposition format.
func (r *Registry) Render(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
