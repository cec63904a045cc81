package domain

import "time"

// Member 表示某个连接在 Share 中的参与记录。
// 连接建立后、加入房间前，ShareCode 为 NULL（瞬态成员）。
type Member struct {
	ConnectionID string    `gorm:"primaryKey;size:64"`            // 传输层连接的唯一标识 (主键)
	ShareCode    *string   `gorm:"index;size:7"`                  // 所属 Share 的共享码，未加入时为 NULL
	Username     string    `gorm:"size:20;not null"`              // 用户名，3-20 字符
	Color        string    `gorm:"size:7"`                        // 分配的颜色 (十六进制，如 #E6194B)
	Lat          *float64  // 纬度，未上报位置时为 NULL
	Lon          *float64  // 经度，与 Lat 同时有效
	Heading      *float64  // 朝向角度，可选，不做范围校验
	LastUpdate   time.Time `gorm:"index"`                         // 最近一次被接受的状态写入时间，带索引便于过期扫描
}

// Attached 判断成员是否已加入某个 Share。
func (m *Member) Attached() bool {
	return m.ShareCode != nil && *m.ShareCode != ""
}

// HasPosition 判断成员是否已有有效位置（经纬度须同时存在）。
func (m *Member) HasPosition() bool {
	return m.Lat != nil && m.Lon != nil
}
