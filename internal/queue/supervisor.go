package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NomadCrew/chatpulse-backend/types"
	"github.com/redis/go-redis/v9"
)

const supervisorPrefix = "supervisor:"

// SupervisorRegistry tracks live worker supervisors as expiring Redis keys.
// A supervisor that stops heartbeating disappears once its TTL lapses.
type SupervisorRegistry struct {
	rdb redis.Cmdable
}

// NewSupervisorRegistry creates a registry backed by rdb.
func NewSupervisorRegistry(rdb redis.Cmdable) *SupervisorRegistry {
	return &SupervisorRegistry{rdb: rdb}
}

// Heartbeat registers or refreshes a supervisor for ttl.
func (r *SupervisorRegistry) Heartbeat(ctx context.Context, sup types.Supervisor, ttl time.Duration) error {
	data, err := json.Marshal(sup)
	if err != nil {
		return fmt.Errorf("marshal supervisor %s: %w", sup.Name, err)
	}
	if err := r.rdb.Set(ctx, supervisorPrefix+sup.Name, data, ttl).Err(); err != nil {
		return fmt.Errorf("heartbeat supervisor %s: %w", sup.Name, err)
	}
	return nil
}

// Remove unregisters a supervisor immediately.
func (r *SupervisorRegistry) Remove(ctx context.Context, name string) error {
	if err := r.rdb.Del(ctx, supervisorPrefix+name).Err(); err != nil {
		return fmt.Errorf("remove supervisor %s: %w", name, err)
	}
	return nil
}

// All returns every supervisor that is currently registered.
func (r *SupervisorRegistry) All(ctx context.Context) ([]types.Supervisor, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.rdb.Scan(ctx, cursor, supervisorPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan supervisors: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	supervisors := make([]types.Supervisor, 0, len(keys))
	if len(keys) == 0 {
		return supervisors, nil
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load supervisors: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var sup types.Supervisor
		if err := json.Unmarshal([]byte(raw), &sup); err != nil {
			return nil, fmt.Errorf("decode supervisor %s: %w", keys[i], err)
		}
		supervisors = append(supervisors, sup)
	}
	return supervisors, nil
}
