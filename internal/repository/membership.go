package repository

import (
	"context"
	"time"

	"github.com/yfffy/simplemeet/internal/domain"
)

// SweepResult 记录一次过期扫描删除的数量。
type SweepResult struct {
	SharesRemoved  int64 // 被删除的过期 Share 数（其成员级联删除）
	MembersRemoved int64 // 被单独删除的陈旧成员数
}

// MembershipRepository 定义了 Share 与 Member 两张表的存储操作。
// 成员关系由该仓库独占管理：跨表的操作（分离成员并统计剩余、过期扫描）
// 在实现内部以事务保证原子性，失败时完整回滚。
type MembershipRepository interface {
	// CreateShare 创建一个新的 Share。
	// 共享码冲突时返回 ErrDuplicateEntry。
	CreateShare(ctx context.Context, code string, createdAt, expiresAt time.Time) (*domain.Share, error)

	// FindShare 根据共享码查找 Share，不存在时返回 ErrShareNotFound。
	FindShare(ctx context.Context, code string) (*domain.Share, error)

	// ShareExists 检查共享码是否已被占用（供生成器查重）。
	ShareExists(ctx context.Context, code string) (bool, error)

	// SaveTransient 保存（或更新）一个尚未加入房间的瞬态成员。
	// 使用 upsert 以容忍快速重连：同一连接重复建立时更新而非报错。
	SaveTransient(ctx context.Context, member *domain.Member) error

	// AttachMember 将连接绑定到指定 Share。
	// Share 不存在时返回 ErrShareNotFound；已存在的连接记录被更新而非重复插入。
	AttachMember(ctx context.Context, connectionID, shareCode, username, color string, now time.Time) (*domain.Member, error)

	// UpdateLocation 记录成员的最新位置。
	// 连接记录不存在（例如已断开并被删除）时返回 ErrMemberNotFound，
	// 绝不重建已删除的记录。
	UpdateLocation(ctx context.Context, connectionID string, lat, lon float64, heading *float64, now time.Time) (*domain.Member, error)

	// DetachMember 删除成员记录，返回其原属共享码与该 Share 剩余成员数。
	// 连接从未加入任何 Share 时返回空共享码。
	// 记录不存在时返回 ErrMemberNotFound。
	DetachMember(ctx context.Context, connectionID string) (shareCode string, remaining int64, err error)

	// DeleteShare 删除 Share（及其级联成员）。
	DeleteShare(ctx context.Context, code string) error

	// ListMembers 返回指定 Share 的全部成员（顺序不保证）。
	ListMembers(ctx context.Context, shareCode string) ([]domain.Member, error)

	// CountMembers 返回指定 Share 当前的成员数。
	CountMembers(ctx context.Context, shareCode string) (int64, error)

	// SweepExpired 删除 expires_at 早于 now 的 Share（级联成员）、
	// last_update 早于 staleBefore 的成员，以及因此变空的 Share。
	SweepExpired(ctx context.Context, now, staleBefore time.Time) (SweepResult, error)
}
