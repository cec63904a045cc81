package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/yfffy/simplemeet/internal/domain"
	"github.com/yfffy/simplemeet/internal/repository"
)

// MembershipRepository 是 repository.MembershipRepository 的 testify Mock 实现，
// 供 Service 层单元测试使用。
type MembershipRepository struct {
	mock.Mock
}

func (m *MembershipRepository) CreateShare(ctx context.Context, code string, createdAt, expiresAt time.Time) (*domain.Share, error) {
	args := m.Called(ctx, code, createdAt, expiresAt)
	var share *domain.Share
	if args.Get(0) != nil {
		share = args.Get(0).(*domain.Share)
	}
	return share, args.Error(1)
}

func (m *MembershipRepository) FindShare(ctx context.Context, code string) (*domain.Share, error) {
	args := m.Called(ctx, code)
	var share *domain.Share
	if args.Get(0) != nil {
		share = args.Get(0).(*domain.Share)
	}
	return share, args.Error(1)
}

func (m *MembershipRepository) ShareExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MembershipRepository) SaveTransient(ctx context.Context, member *domain.Member) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MembershipRepository) AttachMember(ctx context.Context, connectionID, shareCode, username, color string, now time.Time) (*domain.Member, error) {
	args := m.Called(ctx, connectionID, shareCode, username, color, now)
	var member *domain.Member
	if args.Get(0) != nil {
		member = args.Get(0).(*domain.Member)
	}
	return member, args.Error(1)
}

func (m *MembershipRepository) UpdateLocation(ctx context.Context, connectionID string, lat, lon float64, heading *float64, now time.Time) (*domain.Member, error) {
	args := m.Called(ctx, connectionID, lat, lon, heading, now)
	var member *domain.Member
	if args.Get(0) != nil {
		member = args.Get(0).(*domain.Member)
	}
	return member, args.Error(1)
}

func (m *MembershipRepository) DetachMember(ctx context.Context, connectionID string) (string, int64, error) {
	args := m.Called(ctx, connectionID)
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

func (m *MembershipRepository) DeleteShare(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MembershipRepository) ListMembers(ctx context.Context, shareCode string) ([]domain.Member, error) {
	args := m.Called(ctx, shareCode)
	var members []domain.Member
	if args.Get(0) != nil {
		members = args.Get(0).([]domain.Member)
	}
	return members, args.Error(1)
}

func (m *MembershipRepository) CountMembers(ctx context.Context, shareCode string) (int64, error) {
	args := m.Called(ctx, shareCode)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MembershipRepository) SweepExpired(ctx context.Context, now, staleBefore time.Time) (repository.SweepResult, error) {
	args := m.Called(ctx, now, staleBefore)
	return args.Get(0).(repository.SweepResult), args.Error(1)
}
