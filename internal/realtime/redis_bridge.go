package realtime

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"taskflow/internal/models"
)

// ActivityChannel is the Redis pub/sub channel shared by all instances.
const ActivityChannel = "taskflow:activity"

// RedisBridge relays activity between instances: entries published here go
// to Redis, and everything received from Redis is broadcast to the local hub.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	log     *zap.SugaredLogger
}

func NewRedisBridge(client *redis.Client, hub *Hub, log *zap.SugaredLogger) *RedisBridge {
	return &RedisBridge{client: client, hub: hub, channel: ActivityChannel, log: log}
}

// Publish implements services.ActivityPublisher. On a Redis failure the
// entries still reach local subscribers.
func (b *RedisBridge) Publish(ctx context.Context, entries []models.ActivityEntry) {
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			b.log.Errorw("[redis][encode][err]", "entry_id", e.ID, "err", err)
			continue
		}
		if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
			b.log.Warnw("[redis][publish][err] falling back to local hub", "entry_id", e.ID, "err", err)
			b.hub.Broadcast(e)
		}
	}
}

// Run subscribes to the channel and feeds the hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e models.ActivityEntry
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.log.Warnw("[redis][decode][err]", "err", err)
				continue
			}
			b.hub.Broadcast(e)
		}
	}
}
