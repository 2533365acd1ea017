package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrRegisterCounter_Idempotent(t *testing.T) {
	r := NewRegistry()

	first, err := r.GetOrRegisterCounter("chatpulse", "health_checks_total", "Total health checks", []string{"status"})
	require.NoError(t, err)
	second, err := r.GetOrRegisterCounter("chatpulse", "health_checks_total", "Total health checks", []string{"status"})
	require.NoError(t, err)

	assert.Same(t, first, second)

	require.NoError(t, first.Inc("healthy"))
	require.NoError(t, second.Inc("healthy"))
	require.NoError(t, second.Add(3, "unhealthy"))

	assert.Equal(t, 2.0, testutil.ToFloat64(first.vec.WithLabelValues("healthy")))
	assert.Equal(t, 3.0, testutil.ToFloat64(first.vec.WithLabelValues("unhealthy")))
}

func TestGetOrRegister_Mismatch(t *testing.T) {
	r := NewRegistry()

	_, err := r.GetOrRegisterGauge("chatpulse", "queue_size", "Queue size", []string{"queue"})
	require.NoError(t, err)

	_, err = r.GetOrRegisterCounter("chatpulse", "queue_size", "Queue size", []string{"queue"})
	assert.ErrorIs(t, err, ErrMetricMismatch)

	_, err = r.GetOrRegisterGauge("chatpulse", "queue_size", "Queue size", []string{"queue", "connection"})
	assert.ErrorIs(t, err, ErrMetricMismatch)

	_, err = r.GetOrRegisterGauge("chatpulse", "queue_size", "Queue size", []string{"name"})
	assert.ErrorIs(t, err, ErrMetricMismatch)
}

func TestNamespacesAreDistinct(t *testing.T) {
	r := NewRegistry()

	a, err := r.GetOrRegisterGauge("a", "up", "up", nil)
	require.NoError(t, err)
	b, err := r.GetOrRegisterGauge("b", "up", "up", nil)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestLabelArityErrorsInsteadOfPanicking(t *testing.T) {
	r := NewRegistry()

	g, err := r.GetOrRegisterGauge("chatpulse", "service_health_status", "Service health", []string{"service"})
	require.NoError(t, err)

	assert.Error(t, g.Set(1))
	assert.Error(t, g.Set(1, "database", "extra"))
	assert.NoError(t, g.Set(1, "database"))

	c, err := r.GetOrRegisterCounter("chatpulse", "events_total", "Events", nil)
	require.NoError(t, err)
	assert.Error(t, c.Add(-1))
	assert.Error(t, c.Inc("unexpected"))
}

func TestGaugeKeepsLastValue(t *testing.T) {
	r := NewRegistry()

	g, err := r.GetOrRegisterGauge("chatpulse", "queue_size", "Queue size", []string{"queue"})
	require.NoError(t, err)

	require.NoError(t, g.Set(10, "default"))
	require.NoError(t, g.Set(4, "default"))
	require.NoError(t, g.Set(7, "broadcasts"))

	assert.Equal(t, 4.0, testutil.ToFloat64(g.vec.WithLabelValues("default")))
	assert.Equal(t, 7.0, testutil.ToFloat64(g.vec.WithLabelValues("broadcasts")))
}

func TestHistogramObserve(t *testing.T) {
	r := NewRegistry()

	h, err := r.GetOrRegisterHistogram("chatpulse", "health_check_duration_ms", "Duration", nil, []float64{10, 100})
	require.NoError(t, err)
	require.NoError(t, h.Observe(5))
	require.NoError(t, h.Observe(50))

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	out := buf.String()

	assert.Contains(t, out, "# TYPE chatpulse_health_check_duration_ms histogram")
	assert.Contains(t, out, `chatpulse_health_check_duration_ms_bucket{le="10"} 1`)
	assert.Contains(t, out, `chatpulse_health_check_duration_ms_bucket{le="100"} 2`)
	assert.Contains(t, out, "chatpulse_health_check_duration_ms_count 2")
}

func TestRender(t *testing.T) {
	r := NewRegistry()

	g, err := r.GetOrRegisterGauge("chatpulse", "service_health_status", "Health status of individual services", []string{"service"})
	require.NoError(t, err)
	require.NoError(t, g.Set(1, "database"))

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))

	expected := `# HELP chatpulse_service_health_status Health status of individual services
# TYPE chatpulse_service_health_status gauge
chatpulse_service_health_status{service="database"} 1
`
	assert.Equal(t, expected, buf.String())
	assert.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "chatpulse_service_health_status"))
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.GetOrRegisterCounter("chatpulse", "concurrent_total", "Concurrent", []string{"k"})
			if err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 100; j++ {
				_ = c.Inc("x")
			}
		}()
	}
	wg.Wait()

	c, err := r.GetOrRegisterCounter("chatpulse", "concurrent_total", "Concurrent", []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, 5000.0, testutil.ToFloat64(c.vec.WithLabelValues("x")))
}
