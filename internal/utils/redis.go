// 包 utils：Redis 连接工具，事件发布通道使用
package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"pogomap/internal/config"
	"pogomap/internal/logger"
)

// OpenRedis：按配置打开 Redis 客户端；未启用时返回 nil
func OpenRedis(cfg config.Redis) *redis.Client {
	if !cfg.Enable {
		return nil
	}
	db := cfg.DB
	if db < 0 {
		db = 0
	}
	logger.L().Debug("redis_open", "addr", cfg.Addr(), "db", db)
	return redis.NewClient(&redis.Options{Addr: cfg.Addr(), Password: cfg.Pass, DB: db})
}

// PingRedis：启动时探测连通性，失败只告警不终止，发布失败由出口自行计数
func PingRedis(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.L().Warn("redis_ping_error", "addr", rdb.Options().Addr, "err", err)
		return err
	}
	return nil
}
