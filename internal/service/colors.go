package service

// userColors 是房间成员可用的固定调色板。
var userColors = []string{
	"#E6194B", // Red
	"#3CB44B", // Green
	"#4363D8", // Blue
	"#F58231", // Orange
	"#911EB4", // Purple
	"#46F0F0", // Cyan
	"#FABEBE", // Pink
	"#008080", // Teal
	"#FFE119", // Yellow
	"#E6BEFF", // Lavender
}

// NextColor 根据加入时刻的房间成员数返回下一个颜色：palette[count % len]。
// 颜色在成员离开后不回收，成员流动后可能出现短暂重复，这是接受的行为。
func NextColor(memberCount int) string {
	if memberCount < 0 {
		memberCount = 0
	}
	return userColors[memberCount%len(userColors)]
}

// PaletteSize 返回调色板大小。
func PaletteSize() int {
	return len(userColors)
}
