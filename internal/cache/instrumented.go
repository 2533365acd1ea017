package cache

import (
	"context"
	"time"

	"github.com/NomadCrew/chatpulse-backend/types"
)

// Instrumented decorates a Store and reports every Get as a cache hit or miss.
type Instrumented struct {
	Store
	recorder EventRecorder
}

// NewInstrumented wraps s so lookups are reported to recorder.
func NewInstrumented(s Store, recorder EventRecorder) *Instrumented {
	return &Instrumented{Store: s, recorder: recorder}
}

func (c *Instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok, err := c.Store.Get(ctx, key)
	if err != nil {
		return val, ok, err
	}
	entryType := types.EntryCacheMiss
	if ok {
		entryType = types.EntryCacheHit
	}
	c.recorder.Record(entryType, 1, map[string]interface{}{
		"key":       key,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return val, ok, nil
}
