package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimitRepository 是 RateLimitRepository 接口的 Redis 实现。
// 每个连接对应一个带 TTL 的 key：SET NX 成功即代表本次更新被接受，
// key 存活期间的后续更新全部拒绝。TTL 到期自动清理，断开连接时再显式删除。
type RedisRateLimitRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateLimitRepository 创建 RedisRateLimitRepository 实例
func NewRedisRateLimitRepository(client *redis.Client, keyPrefix string) *RedisRateLimitRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisRateLimitRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "sm:" // 默认前缀 "sm:" (simplemeet)
	}
	return &RedisRateLimitRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisRateLimitRepository) ledgerKey(connectionID string) string {
	return fmt.Sprintf("%sratelimit:loc:%s", r.keyPrefix, connectionID)
}

// Allow 实现每连接的位置更新限流。
// SET NX PX 是单条原子命令，无需额外加锁即可保证每连接的原子性。
func (r *RedisRateLimitRepository) Allow(ctx context.Context, connectionID string, interval time.Duration) (bool, error) {
	key := r.ledgerKey(connectionID)
	ok, err := r.client.SetNX(ctx, key, 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit check for connection '%s': %w", connectionID, err)
	}
	return ok, nil
}

// Forget 实现清除连接的账本记录
func (r *RedisRateLimitRepository) Forget(ctx context.Context, connectionID string) error {
	if err := r.client.Del(ctx, r.ledgerKey(connectionID)).Err(); err != nil {
		return fmt.Errorf("redis: forget rate limit entry for connection '%s': %w", connectionID, err)
	}
	return nil
}
