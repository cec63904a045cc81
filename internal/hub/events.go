package hub

import (
	"encoding/json"

	"github.com/yfffy/simplemeet/internal/domain"
)

// 客户端入站事件类型
const (
	eventCreateShare    = "create_share"
	eventJoinShare      = "join_share"
	eventLocationUpdate = "location_update"
)

// 服务端出站事件类型
const (
	eventShareCreated      = "share_created"
	eventJoinedShare       = "joined_share"
	eventCreateError       = "create_error"
	eventJoinError         = "join_error"
	eventExistingUsers     = "existing_users"
	eventUserJoined        = "user_joined"
	eventUserLeft          = "user_left"
	eventUserListUpdate    = "user_list_update"
	eventLocationBroadcast = "location_broadcast"
)

// clientEvent 是客户端消息的统一信封。
// 坐标字段保持原始 JSON 类型，由 Validator 负责数值化与范围检查。
type clientEvent struct {
	Type      string      `json:"type"`
	ShareCode string      `json:"share_code,omitempty"`
	Username  string      `json:"username,omitempty"`
	Lat       interface{} `json:"lat,omitempty"`
	Lon       interface{} `json:"lon,omitempty"`
	Heading   interface{} `json:"heading,omitempty"`
}

// envelope 将出站事件序列化为 {"type": ..., 字段...} 形式的 JSON。
func envelope(eventType string, fields map[string]interface{}) []byte {
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType
	data, _ := json.Marshal(payload)
	return data
}

// memberPayload 构造成员在快照/广播中的表示。
// 未上报位置的成员 lat/lon/heading 序列化为 null。
func memberPayload(m *domain.Member) map[string]interface{} {
	return map[string]interface{}{
		"sid":      m.ConnectionID,
		"username": m.Username,
		"color":    m.Color,
		"lat":      m.Lat,
		"lon":      m.Lon,
		"heading":  m.Heading,
	}
}

// memberListPayload 构造 user_list_update 的完整成员列表。
func memberListPayload(members []domain.Member) []map[string]interface{} {
	users := make([]map[string]interface{}, 0, len(members))
	for i := range members {
		users = append(users, memberPayload(&members[i]))
	}
	return users
}
