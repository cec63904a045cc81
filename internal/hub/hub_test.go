package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yfffy/simplemeet/internal/domain"
	"github.com/yfffy/simplemeet/internal/service"
)

// newTestHub 构造只用于房间注册表与广播测试的 Hub，不接存储。
func newTestHub() *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 16),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
	}
}

func newTestClient(h *Hub, connectionID string) *Client {
	return &Client{
		hub:          h,
		connectionID: connectionID,
		send:         make(chan []byte, 8),
		closed:       make(chan struct{}),
	}
}

func drain(c *Client) [][]byte {
	var msgs [][]byte
	for {
		select {
		case m := <-c.send:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func TestEnvelope_IncludesEventType(t *testing.T) {
	data := envelope(eventUserLeft, map[string]interface{}{"sid": "conn-1"})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "user_left", decoded["type"])
	assert.Equal(t, "conn-1", decoded["sid"])
}

func TestMemberPayload_NullPositionBeforeFirstUpdate(t *testing.T) {
	code := "ABC-123"
	m := &domain.Member{ConnectionID: "conn-1", ShareCode: &code, Username: "Alice", Color: "#E6194B"}

	data, err := json.Marshal(memberPayload(m))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Alice", decoded["username"])
	// 尚未上报位置的成员坐标序列化为 null
	assert.Nil(t, decoded["lat"])
	assert.Nil(t, decoded["lon"])
	assert.Nil(t, decoded["heading"])
}

func TestJoinRoom_MovesClientBetweenRooms(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, "conn-1")

	h.joinRoom(c, "ABC-123")
	assert.Equal(t, "ABC-123", c.share)
	assert.True(t, h.rooms["ABC-123"][c])

	// 加入另一个房间时自动离开旧房间，空房间记录被删除
	h.joinRoom(c, "XYZ-789")
	assert.Equal(t, "XYZ-789", c.share)
	_, oldExists := h.rooms["ABC-123"]
	assert.False(t, oldExists)
	assert.True(t, h.rooms["XYZ-789"][c])
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	h := newTestHub()
	sender := newTestClient(h, "conn-1")
	peer := newTestClient(h, "conn-2")
	outsider := newTestClient(h, "conn-3")

	h.joinRoom(sender, "ABC-123")
	h.joinRoom(peer, "ABC-123")
	h.joinRoom(outsider, "XYZ-789")

	msg := envelope(eventLocationBroadcast, map[string]interface{}{"sid": "conn-1"})
	h.broadcast("ABC-123", msg, sender)

	// 发送者与其他房间的客户端都收不到
	assert.Empty(t, drain(sender))
	assert.Empty(t, drain(outsider))
	received := drain(peer)
	require.Len(t, received, 1)
	assert.JSONEq(t, string(msg), string(received[0]))
}

func TestBroadcast_NilSenderReachesWholeRoom(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h, "conn-1")
	b := newTestClient(h, "conn-2")
	h.joinRoom(a, "ABC-123")
	h.joinRoom(b, "ABC-123")

	h.broadcast("ABC-123", []byte(`{"type":"user_list_update"}`), nil)

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestEnqueue_DroppedAfterShutdown(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, "conn-1")
	c.shutdown()

	c.enqueue([]byte("late"))
	assert.Empty(t, drain(c))
}

func TestNotifyDeparture_RefreshesOldRoom(t *testing.T) {
	h := newTestHub()
	mover := newTestClient(h, "conn-1")
	stayer := newTestClient(h, "conn-2")
	h.joinRoom(stayer, "OLD-111")
	h.joinRoom(mover, "ABC-123") // 已搬去新房间

	left := &service.DisconnectResult{
		ShareCode: "OLD-111",
		Remaining: []domain.Member{{ConnectionID: "conn-2", Username: "Bob"}},
	}
	h.notifyDeparture(mover, left)

	// 旧房间成员依次收到 user_left 与刷新后的成员列表
	received := drain(stayer)
	require.Len(t, received, 2)
	assert.Contains(t, string(received[0]), `"type":"user_left"`)
	assert.Contains(t, string(received[0]), `"sid":"conn-1"`)
	assert.Contains(t, string(received[1]), `"type":"user_list_update"`)
	// 新房间不收离开事件
	assert.Empty(t, drain(mover))
}

func TestNotifyDeparture_ClosedShareSkipsListUpdate(t *testing.T) {
	h := newTestHub()
	mover := newTestClient(h, "conn-1")
	observer := newTestClient(h, "conn-2")
	h.joinRoom(observer, "OLD-111")

	h.notifyDeparture(mover, &service.DisconnectResult{ShareCode: "OLD-111", ShareClosed: true})

	// 房间已关闭时只广播 user_left，不再发成员列表
	received := drain(observer)
	require.Len(t, received, 1)
	assert.Contains(t, string(received[0]), `"type":"user_left"`)
}
