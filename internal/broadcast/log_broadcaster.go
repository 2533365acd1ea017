package broadcast

import (
	"context"

	"github.com/NomadCrew/chatpulse-backend/logger"
	"go.uber.org/zap"
)

// LogBroadcaster writes every broadcast to the application log.
type LogBroadcaster struct {
	log *zap.SugaredLogger
}

func NewLogBroadcaster() *LogBroadcaster {
	return &LogBroadcaster{log: logger.GetLogger().Named("broadcast")}
}

func (b *LogBroadcaster) DriverName() string {
	return DriverLog
}

func (b *LogBroadcaster) Broadcast(_ context.Context, channel, event string, data interface{}) error {
	env, err := newEnvelope(channel, event, data)
	if err != nil {
		return err
	}
	b.log.Infow("Broadcasting event",
		"channel", env.Channel,
		"event", env.Event,
		"data", string(env.Data))
	return nil
}

// NullBroadcaster discards every broadcast.
type NullBroadcaster struct{}

func (NullBroadcaster) DriverName() string {
	return DriverNull
}

func (NullBroadcaster) Broadcast(context.Context, string, string, interface{}) error {
	return nil
}
