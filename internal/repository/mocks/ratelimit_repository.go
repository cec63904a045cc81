package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// RateLimitRepository 是 repository.RateLimitRepository 的 testify Mock 实现。
type RateLimitRepository struct {
	mock.Mock
}

func (m *RateLimitRepository) Allow(ctx context.Context, connectionID string, interval time.Duration) (bool, error) {
	args := m.Called(ctx, connectionID, interval)
	return args.Bool(0), args.Error(1)
}

func (m *RateLimitRepository) Forget(ctx context.Context, connectionID string) error {
	args := m.Called(ctx, connectionID)
	return args.Error(0)
}
