package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"pogomap/internal/config"
)

// RedisPublisher：将同样的信封发布到 Redis 频道，供其他进程订阅
type RedisPublisher struct {
	*pump
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string, cfg config.Webhook) *RedisPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &RedisPublisher{rdb: rdb, channel: channel}
	p.pump = newPump("redis", cfg.QueueSize, 1, timeout, p.publish)
	return p
}

func (p *RedisPublisher) publish(ctx context.Context, e Envelope) error {
	b, err := e.encode()
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}
