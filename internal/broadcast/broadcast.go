// Package broadcast publishes chat events to realtime subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver names accepted by New.
const (
	DriverRedis = "redis"
	DriverLog   = "log"
	DriverNull  = "null"
)

// Envelope is the wire form of a broadcast event.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

// Broadcaster sends an event to every subscriber of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, data interface{}) error
	DriverName() string
}

// Subscriber is implemented by broadcasters that can deliver events back
// to in-process listeners.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Envelope, error)
}

// DriverReporter reports the configured broadcast driver.
type DriverReporter interface {
	DriverName() (string, error)
}

// ConfiguredDriver reports a driver name taken from configuration. Names New
// would reject are reported as errors.
type ConfiguredDriver string

func (d ConfiguredDriver) DriverName() (string, error) {
	switch name := string(d); name {
	case DriverRedis, DriverLog, DriverNull, "":
		return name, nil
	default:
		return "", fmt.Errorf("unknown broadcast driver %q", name)
	}
}

// New builds the broadcaster for driver. The redis driver requires rdb.
func New(driver string, rdb redis.UniversalClient) (Broadcaster, error) {
	switch driver {
	case DriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("broadcast driver %q requires a redis client", driver)
		}
		return NewRedisBroadcaster(rdb), nil
	case DriverLog:
		return NewLogBroadcaster(), nil
	case DriverNull, "":
		return NullBroadcaster{}, nil
	default:
		return nil, fmt.Errorf("unknown broadcast driver %q", driver)
	}
}

func newEnvelope(channel, event string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{
		Channel: channel,
		Event:   event,
		Data:    raw,
		SentAt:  time.Now().UTC(),
	}, nil
}
