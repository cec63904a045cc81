package domain

import "time"

// Share 表示一个位置共享房间。
// Code 即用户输入的共享码（形如 ABC-123），作为主键保证全局唯一。
type Share struct {
	Code      string    `gorm:"primaryKey;size:7"`         // 共享码，格式为 3 个大写字母-3 个数字
	CreatedAt time.Time `gorm:"autoCreateTime"`            // 创建时间 (GORM 自动填充)
	ExpiresAt time.Time `gorm:"index;not null"`            // 过期时间，默认创建后 24 小时，带索引便于清理任务扫描

	// 关联的成员。数据库层设置 ON DELETE CASCADE，删除 Share 时级联删除成员。
	Members []Member `gorm:"foreignKey:ShareCode;references:Code;constraint:OnDelete:CASCADE"`
}

// Expired 判断该 Share 在给定时刻是否已过期。
func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
