package db

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/jackc/pgx/v5"
)

// EventRecorder receives slow query events.
type EventRecorder interface {
	Record(entryType string, value float64, metadata map[string]interface{})
}

type traceKey struct{}

type traceStart struct {
	at  time.Time
	sql string
}

// SlowQueryTracer is a pgx.QueryTracer that reports queries slower than a threshold.
// Statements touching monitoring_entries are ignored so recording never feeds itself.
type SlowQueryTracer struct {
	threshold time.Duration
	recorder  atomic.Value // recorderBox
	now       func() time.Time
}

type recorderBox struct{ r EventRecorder }

var _ pgx.QueryTracer = (*SlowQueryTracer)(nil)

// NewSlowQueryTracer creates a tracer. The recorder can be attached later
// with SetRecorder once the monitoring service exists.
func NewSlowQueryTracer(threshold time.Duration) *SlowQueryTracer {
	return &SlowQueryTracer{threshold: threshold, now: time.Now}
}

// SetRecorder attaches the recorder that receives slow query events.
func (t *SlowQueryTracer) SetRecorder(r EventRecorder) {
	t.recorder.Store(recorderBox{r: r})
}

func (t *SlowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{at: t.now(), sql: data.SQL})
}

func (t *SlowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	elapsed := t.now().Sub(start.at)
	if elapsed < t.threshold || strings.Contains(start.sql, "monitoring_entries") {
		return
	}

	box, ok := t.recorder.Load().(recorderBox)
	if !ok || box.r == nil {
		return
	}

	meta := map[string]interface{}{
		"sql":         start.sql,
		"duration_ms": types.RoundMs(elapsed),
	}
	if data.Err != nil {
		meta["error"] = data.Err.Error()
	}
	box.r.Record(types.EntrySlowQuery, types.RoundMs(elapsed), meta)
}
