package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yfffy/simplemeet/internal/domain"
	"github.com/yfffy/simplemeet/internal/repository"
)

// 空 Share 回收的宽限期。创建 Share 与绑定第一个成员之间存在短暂窗口，
// 扫描时跳过刚创建的 Share 以免误删正在创建中的房间。
const emptyShareGrace = time.Minute

// GormMembershipRepository 是 MembershipRepository 接口的 GORM 实现。
// 跨表操作（分离成员、过期扫描）在事务中执行，失败时整体回滚。
type GormMembershipRepository struct {
	db *gorm.DB
}

// NewGormMembershipRepository 创建 GormMembershipRepository 实例
func NewGormMembershipRepository(db *gorm.DB) *GormMembershipRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMembershipRepository")
	}
	return &GormMembershipRepository{db: db}
}

// CreateShare 实现创建新的 Share
func (r *GormMembershipRepository) CreateShare(ctx context.Context, code string, createdAt, expiresAt time.Time) (*domain.Share, error) {
	share := &domain.Share{
		Code:      code,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	if err := r.db.WithContext(ctx).Create(share).Error; err != nil {
		// 唯一约束冲突 (MySQL 1062) 映射为仓库层的重复错误
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, repository.ErrDuplicateEntry
		}
		return nil, fmt.Errorf("gorm: create share '%s': %w", code, err)
	}
	return share, nil
}

// FindShare 实现根据共享码查找 Share
func (r *GormMembershipRepository) FindShare(ctx context.Context, code string) (*domain.Share, error) {
	var share domain.Share
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&share).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrShareNotFound
		}
		return nil, fmt.Errorf("gorm: find share '%s': %w", code, err)
	}
	return &share, nil
}

// ShareExists 实现检查共享码是否已被占用
func (r *GormMembershipRepository) ShareExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Share{}).Where("code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count shares by code '%s': %w", code, err)
	}
	return count > 0, nil
}

// SaveTransient 实现保存瞬态成员（连接建立、尚未加入房间）。
// 使用 upsert 容忍快速重连：主键冲突时更新现有记录而非报错。
func (r *GormMembershipRepository) SaveTransient(ctx context.Context, member *domain.Member) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "last_update"}),
	}).Create(member).Error
	if err != nil {
		return fmt.Errorf("gorm: save transient member '%s': %w", member.ConnectionID, err)
	}
	return nil
}

// AttachMember 实现将连接绑定到指定 Share
func (r *GormMembershipRepository) AttachMember(ctx context.Context, connectionID, shareCode, username, color string, now time.Time) (*domain.Member, error) {
	var attached domain.Member
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Share 必须存在；加入竞争删除时在这里失败而非产生悬挂引用
		var share domain.Share
		if err := tx.Where("code = ?", shareCode).First(&share).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrShareNotFound
			}
			return err
		}

		member := domain.Member{
			ConnectionID: connectionID,
			ShareCode:    &shareCode,
			Username:     username,
			Color:        color,
			LastUpdate:   now,
		}
		// 已存在的连接记录被更新而非重复插入（容忍快速重连）
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "connection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"share_code", "username", "color", "last_update"}),
		}).Create(&member).Error; err != nil {
			return err
		}
		return tx.Where("connection_id = ?", connectionID).First(&attached).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrShareNotFound) {
			return nil, repository.ErrShareNotFound
		}
		return nil, fmt.Errorf("gorm: attach member '%s' to share '%s': %w", connectionID, shareCode, err)
	}
	return &attached, nil
}

// UpdateLocation 实现记录成员的最新位置。
// 仅更新已存在的行：与断开连接竞争时 RowsAffected 为 0，
// 返回 ErrMemberNotFound 而绝不重建已删除的记录。
func (r *GormMembershipRepository) UpdateLocation(ctx context.Context, connectionID string, lat, lon float64, heading *float64, now time.Time) (*domain.Member, error) {
	var updated domain.Member
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 仅更新已加入房间的成员：尚未加入（share_code 为 NULL）视同不存在
		res := tx.Model(&domain.Member{}).
			Where("connection_id = ? AND share_code IS NOT NULL", connectionID).
			Updates(map[string]interface{}{
			"lat":         lat,
			"lon":         lon,
			"heading":     heading,
			"last_update": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrMemberNotFound
		}
		return tx.Where("connection_id = ?", connectionID).First(&updated).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMemberNotFound
		}
		return nil, fmt.Errorf("gorm: update location for member '%s': %w", connectionID, err)
	}
	return &updated, nil
}

// DetachMember 实现删除成员并统计其原 Share 的剩余成员数
func (r *GormMembershipRepository) DetachMember(ctx context.Context, connectionID string) (string, int64, error) {
	var shareCode string
	var remaining int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member domain.Member
		if err := tx.Where("connection_id = ?", connectionID).First(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrMemberNotFound
			}
			return err
		}
		if err := tx.Where("connection_id = ?", connectionID).Delete(&domain.Member{}).Error; err != nil {
			return err
		}
		if member.Attached() {
			shareCode = *member.ShareCode
			return tx.Model(&domain.Member{}).Where("share_code = ?", shareCode).Count(&remaining).Error
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return "", 0, repository.ErrMemberNotFound
		}
		return "", 0, fmt.Errorf("gorm: detach member '%s': %w", connectionID, err)
	}
	return shareCode, remaining, nil
}

// DeleteShare 实现删除 Share（成员由数据库级联删除）
func (r *GormMembershipRepository) DeleteShare(ctx context.Context, code string) error {
	if err := r.db.WithContext(ctx).Where("code = ?", code).Delete(&domain.Share{}).Error; err != nil {
		return fmt.Errorf("gorm: delete share '%s': %w", code, err)
	}
	return nil
}

// ListMembers 实现返回指定 Share 的全部成员
func (r *GormMembershipRepository) ListMembers(ctx context.Context, shareCode string) ([]domain.Member, error) {
	var members []domain.Member
	err := r.db.WithContext(ctx).Where("share_code = ?", shareCode).Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list members of share '%s': %w", shareCode, err)
	}
	return members, nil
}

// CountMembers 实现统计指定 Share 的成员数
func (r *GormMembershipRepository) CountMembers(ctx context.Context, shareCode string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Member{}).Where("share_code = ?", shareCode).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count members of share '%s': %w", shareCode, err)
	}
	return count, nil
}

// SweepExpired 实现过期扫描：
//  1. 删除已过期的 Share（成员级联删除）；
//  2. 删除 last_update 过旧的陈旧成员（无论其 Share 是否过期）；
//  3. 删除因此变空的 Share（保持"空房间不存在"的不变量），
//     跳过宽限期内刚创建的 Share。
func (r *GormMembershipRepository) SweepExpired(ctx context.Context, now, staleBefore time.Time) (repository.SweepResult, error) {
	var result repository.SweepResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at < ?", now).Delete(&domain.Share{})
		if res.Error != nil {
			return res.Error
		}
		result.SharesRemoved = res.RowsAffected

		res = tx.Where("last_update < ?", staleBefore).Delete(&domain.Member{})
		if res.Error != nil {
			return res.Error
		}
		result.MembersRemoved = res.RowsAffected

		res = tx.Where("code NOT IN (?) AND created_at < ?",
			tx.Model(&domain.Member{}).Select("share_code").Where("share_code IS NOT NULL"),
			now.Add(-emptyShareGrace),
		).Delete(&domain.Share{})
		if res.Error != nil {
			return res.Error
		}
		result.SharesRemoved += res.RowsAffected
		return nil
	})
	if err != nil {
		return repository.SweepResult{}, fmt.Errorf("gorm: sweep expired shares: %w", err)
	}
	return result, nil
}
