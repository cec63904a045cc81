package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yfffy/simplemeet/internal/domain"
	"github.com/yfffy/simplemeet/internal/repository"
)

const (
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeDigits  = "0123456789"
	// 共享码生成的最大尝试次数。正常规模下碰撞概率极低，
	// 设置上限只是为了避免存储异常时陷入死循环。
	maxCodeAttempts = 100
)

// Config 是 ShareService 的运行参数。
type Config struct {
	ShareLifetime  time.Duration // Share 的生命周期，默认 24 小时
	StaleTimeout   time.Duration // 成员多久未更新视为陈旧，默认 10 分钟
	UpdateInterval time.Duration // 同一连接两次位置更新的最小间隔，默认 2 秒
	MaxMembers     int           // 单个 Share 的成员上限，默认 50
}

// DefaultConfig 返回各参数的默认值。
func DefaultConfig() Config {
	return Config{
		ShareLifetime:  24 * time.Hour,
		StaleTimeout:   10 * time.Minute,
		UpdateInterval: 2 * time.Second,
		MaxMembers:     50,
	}
}

// ShareService 负责共享房间的全部业务逻辑：
// 连接/断开、创建/加入共享、位置更新与过期清理。
// 它是唯一读写 MembershipRepository 的组件。
type ShareService struct {
	members repository.MembershipRepository
	limiter repository.RateLimitRepository
	cfg     Config

	// 粗粒度协调锁：序列化"读成员数-再写入"的片段
	// （共享码查重、颜色分配、绑定成员），避免并发加入分到相同颜色。
	mu sync.Mutex
}

// NewShareService 创建 ShareService 实例。
func NewShareService(members repository.MembershipRepository, limiter repository.RateLimitRepository, cfg Config) *ShareService {
	if members == nil {
		panic("MembershipRepository cannot be nil for ShareService")
	}
	if limiter == nil {
		panic("RateLimitRepository cannot be nil for ShareService")
	}
	if cfg.ShareLifetime <= 0 || cfg.StaleTimeout <= 0 || cfg.UpdateInterval <= 0 || cfg.MaxMembers <= 0 {
		panic("ShareService config values must be positive")
	}
	return &ShareService{
		members: members,
		limiter: limiter,
		cfg:     cfg,
	}
}

// CreateShareResult 携带 create_share 成功后需要对外发出的全部数据。
type CreateShareResult struct {
	Share   *domain.Share
	Member  *domain.Member
	Members []domain.Member  // 房间完整成员列表，用于 user_list_update 广播
	Left    *DisconnectResult // 发起者离开的旧 Share 的清理结果，此前未加入时为 nil
}

// JoinShareResult 携带 join_share 成功后需要对外发出的全部数据。
type JoinShareResult struct {
	Share   *domain.Share
	Member  *domain.Member
	Others  []domain.Member  // 已有位置的其他成员，仅发给加入者 (existing_users)
	Members []domain.Member  // 房间完整成员列表，用于 user_list_update 广播
	Left    *DisconnectResult // 加入者离开的旧 Share 的清理结果，此前未加入时为 nil
}

// DisconnectResult 描述断开连接后的清理结果。
type DisconnectResult struct {
	ShareCode   string          // 原属共享码；未加入任何 Share 时为空
	ShareClosed bool            // 该 Share 是否因变空而被删除
	Remaining   []domain.Member // Share 仍存在时的剩余成员列表
}

// WasAttached 判断断开的连接此前是否在某个 Share 中。
func (r *DisconnectResult) WasAttached() bool {
	return r.ShareCode != ""
}

// ShareStatus 是 HTTP 探测接口返回的 Share 概要。
type ShareStatus struct {
	Code        string    `json:"share_code"`
	MemberCount int64     `json:"member_count"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Connect 处理新连接：创建瞬态成员（尚未加入任何 Share）。
// 重复建立的连接记录被更新而非报错，以容忍快速重连。
func (s *ShareService) Connect(ctx context.Context, connectionID string) (*domain.Member, error) {
	member := &domain.Member{
		ConnectionID: connectionID,
		Username:     defaultUsername(connectionID),
		LastUpdate:   time.Now(),
	}
	if err := s.members.SaveTransient(ctx, member); err != nil {
		logrus.WithError(err).WithField("connection_id", connectionID).Error("ShareService: failed to save transient member")
		return nil, ErrStorageFailure
	}
	return member, nil
}

// CreateShare 生成新的共享码、创建 Share 并把发起者绑定为第一个成员。
// username 为空时使用默认用户名；非法时返回 ErrInvalidUsername。
func (s *ShareService) CreateShare(ctx context.Context, connectionID, username string) (*CreateShareResult, error) {
	name, err := s.resolveUsername(connectionID, username)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 已在别的 Share 中的连接先按断开路径离开旧房间，
	// 保证不会留下无人引用的空 Share
	left, err := s.detachPrevious(ctx, connectionID, "")
	if err != nil {
		return nil, err
	}

	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	share, err := s.members.CreateShare(ctx, code, now, now.Add(s.cfg.ShareLifetime))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 查重与插入之间被他人抢占，理论上不可能（持有协调锁）
			return nil, ErrDuplicateShare
		}
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to create share")
		return nil, ErrStorageFailure
	}

	// 创建者是第一个成员，成员数为 0，取调色板首色
	member, err := s.members.AttachMember(ctx, connectionID, code, name, NextColor(0), now)
	if err != nil {
		// 保持原子性：绑定失败时回收刚创建的空 Share，不留下半成品
		if delErr := s.members.DeleteShare(ctx, code); delErr != nil {
			logrus.WithError(delErr).WithField("share_code", code).Error("ShareService: failed to roll back empty share")
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"connection_id": connectionID,
			"share_code":    code,
		}).Error("ShareService: failed to attach creator")
		return nil, ErrStorageFailure
	}

	all, err := s.members.ListMembers(ctx, code)
	if err != nil {
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to list members after create")
		return nil, ErrStorageFailure
	}

	logrus.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"share_code":    code,
		"username":      name,
	}).Info("Share created")
	return &CreateShareResult{Share: share, Member: member, Members: all, Left: left}, nil
}

// JoinShare 把连接加入既有的 Share。
// 共享码先经过规范化校验；Share 不存在返回 ErrShareNotFound，
// 成员数达到上限返回 ErrShareFull。
func (s *ShareService) JoinShare(ctx context.Context, connectionID, rawCode, username string) (*JoinShareResult, error) {
	code, err := ValidateShareCode(rawCode)
	if err != nil {
		return nil, err
	}
	name, err := s.resolveUsername(connectionID, username)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	share, err := s.members.FindShare(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrShareNotFound) {
			return nil, ErrShareNotFound
		}
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to look up share")
		return nil, ErrStorageFailure
	}

	// 换房的连接先离开旧 Share；重新加入当前 Share 时不删除它
	left, err := s.detachPrevious(ctx, connectionID, code)
	if err != nil {
		return nil, err
	}

	count, err := s.members.CountMembers(ctx, code)
	if err != nil {
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to count members")
		return nil, ErrStorageFailure
	}
	if count >= int64(s.cfg.MaxMembers) {
		return nil, ErrShareFull
	}

	member, err := s.members.AttachMember(ctx, connectionID, code, name, NextColor(int(count)), time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrShareNotFound) {
			// 查找与绑定之间 Share 被删除（如清理任务），按不存在处理
			return nil, ErrShareNotFound
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"connection_id": connectionID,
			"share_code":    code,
		}).Error("ShareService: failed to attach member")
		return nil, ErrStorageFailure
	}

	all, err := s.members.ListMembers(ctx, code)
	if err != nil {
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to list members after join")
		return nil, ErrStorageFailure
	}

	// 已有位置的其他成员，仅发给加入者
	others := make([]domain.Member, 0, len(all))
	for _, m := range all {
		if m.ConnectionID != connectionID && m.HasPosition() {
			others = append(others, m)
		}
	}

	logrus.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"share_code":    code,
		"username":      name,
		"member_count":  len(all),
	}).Info("Member joined share")
	return &JoinShareResult{Share: share, Member: member, Others: others, Members: all, Left: left}, nil
}

// UpdateLocation 处理位置更新。
// 返回值 accepted 为 false 表示更新被静默丢弃（坐标非法由错误区分，
// 限流丢弃则 err 为 nil）；为 true 时返回已持久化的成员用于广播。
func (s *ShareService) UpdateLocation(ctx context.Context, connectionID string, lat, lon, heading interface{}) (member *domain.Member, accepted bool, err error) {
	latF, lonF, err := SanitizeCoordinates(lat, lon)
	if err != nil {
		return nil, false, err
	}

	allowed, err := s.limiter.Allow(ctx, connectionID, s.cfg.UpdateInterval)
	if err != nil {
		logrus.WithError(err).WithField("connection_id", connectionID).Error("ShareService: rate limiter failure")
		return nil, false, ErrStorageFailure
	}
	if !allowed {
		// 低于限流间隔的更新是有意的无操作，不是错误
		return nil, false, nil
	}

	updated, err := s.members.UpdateLocation(ctx, connectionID, latF, lonF, CoerceHeading(heading), time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			// 连接尚未加入房间，或与断开清理竞争后记录已删除
			return nil, false, ErrMemberNotFound
		}
		logrus.WithError(err).WithField("connection_id", connectionID).Error("ShareService: failed to persist location update")
		return nil, false, ErrStorageFailure
	}
	return updated, true, nil
}

// Disconnect 处理连接断开：删除成员记录并清理限流账本。
// 该连接未加入任何 Share 时没有其他副作用；
// 成为空房间的 Share 被立即删除。
func (s *ShareService) Disconnect(ctx context.Context, connectionID string) (*DisconnectResult, error) {
	if err := s.limiter.Forget(ctx, connectionID); err != nil {
		// 账本带 TTL，清理失败可以容忍
		logrus.WithError(err).WithField("connection_id", connectionID).Warn("ShareService: failed to forget rate limit entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, remaining, err := s.members.DetachMember(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			// 连接从未注册或已被清理任务移除
			return &DisconnectResult{}, nil
		}
		logrus.WithError(err).WithField("connection_id", connectionID).Error("ShareService: failed to detach member")
		return nil, ErrStorageFailure
	}
	if code == "" {
		return &DisconnectResult{}, nil
	}

	if remaining == 0 {
		if err := s.members.DeleteShare(ctx, code); err != nil {
			logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to delete empty share")
			return nil, ErrStorageFailure
		}
		logrus.WithField("share_code", code).Info("Share empty, removed")
		return &DisconnectResult{ShareCode: code, ShareClosed: true}, nil
	}

	members, err := s.members.ListMembers(ctx, code)
	if err != nil {
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to list members after disconnect")
		return nil, ErrStorageFailure
	}
	return &DisconnectResult{ShareCode: code, Remaining: members}, nil
}

// Snapshot 返回指定 Share 的完整成员列表。
func (s *ShareService) Snapshot(ctx context.Context, code string) ([]domain.Member, error) {
	members, err := s.members.ListMembers(ctx, code)
	if err != nil {
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to build snapshot")
		return nil, ErrStorageFailure
	}
	return members, nil
}

// Status 返回 Share 的概要信息（供 HTTP 探测接口）。
func (s *ShareService) Status(ctx context.Context, rawCode string) (*ShareStatus, error) {
	code, err := ValidateShareCode(rawCode)
	if err != nil {
		return nil, err
	}
	share, err := s.members.FindShare(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrShareNotFound) {
			return nil, ErrShareNotFound
		}
		return nil, ErrStorageFailure
	}
	count, err := s.members.CountMembers(ctx, code)
	if err != nil {
		return nil, ErrStorageFailure
	}
	return &ShareStatus{Code: share.Code, MemberCount: count, ExpiresAt: share.ExpiresAt}, nil
}

// Sweep 执行一次过期扫描：删除过期 Share 与陈旧成员。
// 被清理的成员不会收到任何通知，其状态直接消失（接受的最终一致行为）。
func (s *ShareService) Sweep(ctx context.Context, now time.Time) (repository.SweepResult, error) {
	result, err := s.members.SweepExpired(ctx, now, now.Add(-s.cfg.StaleTimeout))
	if err != nil {
		logrus.WithError(err).Error("ShareService: sweep failed")
		return repository.SweepResult{}, ErrStorageFailure
	}
	if result.SharesRemoved > 0 || result.MembersRemoved > 0 {
		logrus.WithFields(logrus.Fields{
			"shares_removed":  result.SharesRemoved,
			"members_removed": result.MembersRemoved,
		}).Info("Sweep removed expired state")
	}
	return result, nil
}

// --- 私有辅助函数 ---

// detachPrevious 在绑定新 Share 前解除连接的现有归属，走与断开相同的路径：
// 旧 Share 变空时立即删除，否则返回剩余成员供旧房间广播。
// rejoining 指明即将加入的共享码，成员重新加入自己所在的 Share 时不删除它。
// 调用方必须持有协调锁。连接此前未加入任何 Share 时返回 (nil, nil)。
func (s *ShareService) detachPrevious(ctx context.Context, connectionID, rejoining string) (*DisconnectResult, error) {
	code, remaining, err := s.members.DetachMember(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, nil
		}
		logrus.WithError(err).WithField("connection_id", connectionID).Error("ShareService: failed to detach member before move")
		return nil, ErrStorageFailure
	}
	if code == "" {
		return nil, nil
	}

	if remaining == 0 {
		if code == rejoining {
			// 成员马上会被重新绑定回来，Share 不算变空
			return &DisconnectResult{ShareCode: code}, nil
		}
		if err := s.members.DeleteShare(ctx, code); err != nil {
			logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to delete empty share after move")
			return nil, ErrStorageFailure
		}
		logrus.WithFields(logrus.Fields{
			"connection_id": connectionID,
			"share_code":    code,
		}).Info("Share empty after member moved, removed")
		return &DisconnectResult{ShareCode: code, ShareClosed: true}, nil
	}

	members, err := s.members.ListMembers(ctx, code)
	if err != nil {
		logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to list members after move")
		return nil, ErrStorageFailure
	}
	return &DisconnectResult{ShareCode: code, Remaining: members}, nil
}

// resolveUsername 确定成员的用户名：调用方未提供时使用默认名，
// 提供时必须通过校验。
func (s *ShareService) resolveUsername(connectionID, username string) (string, error) {
	if username == "" {
		return defaultUsername(connectionID), nil
	}
	return ValidateUsername(username)
}

// defaultUsername 由连接 ID 生成默认用户名，形如 User-ab12。
func defaultUsername(connectionID string) string {
	suffix := connectionID
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}
	return "User-" + suffix
}

// generateCode 随机生成形如 ABC-123 的共享码，并保证与现存 Share 不冲突。
// 达到尝试上限仍未找到唯一码时返回 ErrCapacityExhausted。
func (s *ShareService) generateCode(ctx context.Context) (string, error) {
	buf := make([]byte, 6)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		code := string([]byte{
			codeLetters[int(buf[0])%len(codeLetters)],
			codeLetters[int(buf[1])%len(codeLetters)],
			codeLetters[int(buf[2])%len(codeLetters)],
			'-',
			codeDigits[int(buf[3])%len(codeDigits)],
			codeDigits[int(buf[4])%len(codeDigits)],
			codeDigits[int(buf[5])%len(codeDigits)],
		})

		exists, err := s.members.ShareExists(ctx, code)
		if err != nil {
			logrus.WithError(err).WithField("share_code", code).Error("ShareService: failed to check code uniqueness")
			return "", ErrStorageFailure
		}
		if !exists {
			return code, nil
		}
		logrus.WithField("share_code", code).Debugf("Generated share code already exists, retrying (attempt %d)", attempt+1)
	}
	logrus.Errorf("Failed to generate a unique share code after %d attempts", maxCodeAttempts)
	return "", ErrCapacityExhausted
}
