package setup

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yfffy/simplemeet/internal/domain"
)

// MigrateDB 自动迁移 Share 与 Member 对应的表结构。
// 外键级联 (ON DELETE CASCADE) 由 Member.ShareCode 上的约束标签声明，
// 删除 Share 时数据库层面级联删除其成员。
func MigrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Share{}, &domain.Member{}); err != nil {
		return fmt.Errorf("setup: failed to migrate database: %w", err)
	}
	return nil
}
