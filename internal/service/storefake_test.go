package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/yfffy/simplemeet/internal/domain"
	"github.com/yfffy/simplemeet/internal/repository"
)

// fakeStore 是 MembershipRepository 的内存实现，
// 语义（错误映射、级联删除、扫描三步与宽限期）与 GORM 实现保持一致，
// 用于不依赖数据库的端到端组合测试。
type fakeStore struct {
	mu      sync.Mutex
	shares  map[string]*domain.Share
	members map[string]*domain.Member
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		shares:  make(map[string]*domain.Share),
		members: make(map[string]*domain.Member),
	}
}

func (s *fakeStore) CreateShare(_ context.Context, code string, createdAt, expiresAt time.Time) (*domain.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[code]; ok {
		return nil, repository.ErrDuplicateEntry
	}
	share := &domain.Share{Code: code, CreatedAt: createdAt, ExpiresAt: expiresAt}
	s.shares[code] = share
	copied := *share
	return &copied, nil
}

func (s *fakeStore) FindShare(_ context.Context, code string) (*domain.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	share, ok := s.shares[code]
	if !ok {
		return nil, repository.ErrShareNotFound
	}
	copied := *share
	return &copied, nil
}

func (s *fakeStore) ShareExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.shares[code]
	return ok, nil
}

func (s *fakeStore) SaveTransient(_ context.Context, member *domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.members[member.ConnectionID]; ok {
		existing.Username = member.Username
		existing.LastUpdate = member.LastUpdate
		return nil
	}
	copied := *member
	s.members[member.ConnectionID] = &copied
	return nil
}

func (s *fakeStore) AttachMember(_ context.Context, connectionID, shareCode, username, color string, now time.Time) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[shareCode]; !ok {
		return nil, repository.ErrShareNotFound
	}
	code := shareCode
	member := &domain.Member{
		ConnectionID: connectionID,
		ShareCode:    &code,
		Username:     username,
		Color:        color,
		LastUpdate:   now,
	}
	s.members[connectionID] = member
	copied := *member
	return &copied, nil
}

func (s *fakeStore) UpdateLocation(_ context.Context, connectionID string, lat, lon float64, heading *float64, now time.Time) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[connectionID]
	if !ok || !member.Attached() {
		return nil, repository.ErrMemberNotFound
	}
	member.Lat, member.Lon, member.Heading = &lat, &lon, heading
	member.LastUpdate = now
	copied := *member
	return &copied, nil
}

func (s *fakeStore) DetachMember(_ context.Context, connectionID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[connectionID]
	if !ok {
		return "", 0, repository.ErrMemberNotFound
	}
	delete(s.members, connectionID)
	if !member.Attached() {
		return "", 0, nil
	}
	return *member.ShareCode, s.countLocked(*member.ShareCode), nil
}

func (s *fakeStore) DeleteShare(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteShareLocked(code)
	return nil
}

func (s *fakeStore) ListMembers(_ context.Context, shareCode string) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []domain.Member
	for _, m := range s.members {
		if m.Attached() && *m.ShareCode == shareCode {
			members = append(members, *m)
		}
	}
	return members, nil
}

func (s *fakeStore) CountMembers(_ context.Context, shareCode string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(shareCode), nil
}

func (s *fakeStore) SweepExpired(_ context.Context, now, staleBefore time.Time) (repository.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result repository.SweepResult

	// 1. 过期 Share（成员级联删除）
	for code, share := range s.shares {
		if share.ExpiresAt.Before(now) {
			s.deleteShareLocked(code)
			result.SharesRemoved++
		}
	}

	// 2. 陈旧成员
	for id, member := range s.members {
		if member.LastUpdate.Before(staleBefore) {
			delete(s.members, id)
			result.MembersRemoved++
		}
	}

	// 3. 变空的 Share，跳过宽限期内刚创建的
	for code, share := range s.shares {
		if s.countLocked(code) == 0 && share.CreatedAt.Before(now.Add(-time.Minute)) {
			s.deleteShareLocked(code)
			result.SharesRemoved++
		}
	}
	return result, nil
}

func (s *fakeStore) countLocked(shareCode string) int64 {
	var count int64
	for _, m := range s.members {
		if m.Attached() && *m.ShareCode == shareCode {
			count++
		}
	}
	return count
}

func (s *fakeStore) deleteShareLocked(code string) {
	delete(s.shares, code)
	for id, m := range s.members {
		if m.Attached() && *m.ShareCode == code {
			delete(s.members, id)
		}
	}
}

// --- 测试直接操纵内部状态的辅助方法 ---

func (s *fakeStore) setShareTimes(code string, createdAt, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if share, ok := s.shares[code]; ok {
		share.CreatedAt = createdAt
		share.ExpiresAt = expiresAt
	}
}

func (s *fakeStore) setMemberLastUpdate(connectionID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[connectionID]; ok {
		m.LastUpdate = t
	}
}

func (s *fakeStore) insertEmptyShare(code string, createdAt, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[code] = &domain.Share{Code: code, CreatedAt: createdAt, ExpiresAt: expiresAt}
}

// fakeLimiter 是 RateLimitRepository 的内存实现，按真实时钟记账。
type fakeLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{last: make(map[string]time.Time)}
}

func (l *fakeLimiter) Allow(_ context.Context, connectionID string, interval time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if t, ok := l.last[connectionID]; ok && now.Sub(t) < interval {
		return false, nil
	}
	l.last[connectionID] = now
	return true, nil
}

func (l *fakeLimiter) Forget(_ context.Context, connectionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, connectionID)
	return nil
}
