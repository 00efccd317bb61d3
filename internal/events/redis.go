package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEmitter publishes events to Redis Pub/Sub so out-of-process indexers
// can subscribe without touching the engine. Each event goes to a global
// channel and to a per-market channel.
type RedisEmitter struct {
	rdb     *redis.Client
	channel string
}

// NewRedisEmitter creates an emitter publishing on the given base channel
// (e.g. "settlement.events").
func NewRedisEmitter(rdb *redis.Client, channel string) *RedisEmitter {
	return &RedisEmitter{rdb: rdb, channel: channel}
}

func (r *RedisEmitter) Emit(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		slog.Warn("event publish failed", "channel", r.channel, "err", err)
		return
	}
	if ev.MarketID != "" {
		_ = r.rdb.Publish(ctx, r.channel+"."+ev.MarketID, data).Err()
	}
}
