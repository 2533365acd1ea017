package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds configuration for RedisBroadcaster.
type Config struct {
	PublishTimeout  time.Duration
	EventBufferSize int
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		PublishTimeout:  5 * time.Second,
		EventBufferSize: 100,
	}
}

// RedisBroadcaster publishes envelopes over Redis pub/sub.
type RedisBroadcaster struct {
	rdb    redis.UniversalClient
	log    *zap.SugaredLogger
	config Config
	wg     sync.WaitGroup
}

// NewRedisBroadcaster creates a RedisBroadcaster.
func NewRedisBroadcaster(rdb redis.UniversalClient, cfg ...Config) *RedisBroadcaster {
	config := DefaultConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	return &RedisBroadcaster{
		rdb:    rdb,
		log:    logger.GetLogger().Named("broadcast"),
		config: config,
	}
}

func (b *RedisBroadcaster) DriverName() string {
	return DriverRedis
}

// Broadcast publishes data as event on channel.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, channel, event string, data interface{}) error {
	env, err := newEnvelope(channel, event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.PublishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe returns envelopes published on channel until ctx is cancelled.
// The returned channel is closed when the subscription ends.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, channel string) (<-chan Envelope, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	events := make(chan Envelope, b.config.EventBufferSize)
	b.wg.Add(1)
	go b.processMessages(ctx, pubsub, channel, events)
	return events, nil
}

func (b *RedisBroadcaster) processMessages(ctx context.Context, pubsub *redis.PubSub, channel string, events chan<- Envelope) {
	defer b.wg.Done()
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.log.Errorw("Error closing pubsub", "channel", channel, "error", err)
		}
		close(events)
		b.log.Infow("Subscription closed", "channel", channel)
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Errorw("Failed to unmarshal envelope", "channel", channel, "error", err)
				continue
			}

			// Drop instead of blocking the pub/sub reader
			select {
			case events <- env:
			default:
				b.log.Warnw("Dropped event due to full channel", "channel", channel, "event", env.Event)
			}
		}
	}
}

// Wait blocks until every subscription goroutine has exited.
func (b *RedisBroadcaster) Wait() {
	b.wg.Wait()
}
