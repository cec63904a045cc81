package repository

import (
	"context"
	"time"
)

// RateLimitRepository 维护每连接的位置上报限流账本。
type RateLimitRepository interface {
	// Allow 判断该连接现在是否允许一次位置更新。
	// 距上次被接受的更新不足 interval 时返回 false 且不改变状态；
	// 否则记录本次时间并返回 true。不同连接之间互不影响。
	Allow(ctx context.Context, connectionID string, interval time.Duration) (bool, error)

	// Forget 清除连接的账本记录（断开连接时调用）。
	Forget(ctx context.Context, connectionID string) error
}
