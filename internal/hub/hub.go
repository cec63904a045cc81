package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yfffy/simplemeet/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "event"
	Client  *Client // 消息来源的客户端
	RawData []byte  // 仅用于 event（原始 WebSocket 消息）
}

// Hub 维护活跃客户端集合，把连接事件翻译成 ShareService 调用，
// 并把结果作为定向消息或房间广播发回传输层。
type Hub struct {
	// 内部通道，处理所有来自 Client 的事件
	messageChan chan HubMessage
	done        chan struct{}
	closeOnce   sync.Once

	// 客户端集合：全部已注册客户端，以及按共享码组织的房间
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	shareService *service.ShareService
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(shareService *service.ShareService) *Hub {
	if shareService == nil {
		panic("ShareService cannot be nil for Hub")
	}
	return &Hub{
		messageChan:  make(chan HubMessage, 512),
		done:         make(chan struct{}),
		clients:      make(map[*Client]bool),
		rooms:        make(map[string]map[*Client]bool),
		shareService: shareService,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行。
// register/unregister/create/join 在循环内顺序处理（它们会改动房间注册表），
// 位置更新不动注册表，放到独立 goroutine 以免高频上报阻塞循环。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			case "event":
				h.dispatchEvent(msg)
			default:
				log.Warnf("Hub: received unknown message type: %s", msg.Type)
			}
		}
	}
}

// Stop 停止 Hub 主循环并关闭所有客户端连接。
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.done) })

	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	for client := range h.clients {
		client.conn.Close()
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 true 如果消息成功入队，false 如果队列已满或 Hub 已停止。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.done:
		return false
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// QueueCritical 将不允许丢失的消息（注销）入队，最多等待给定时间。
func (h *Hub) QueueCritical(msg HubMessage, timeout time.Duration) bool {
	select {
	case <-h.done:
		return false
	case h.messageChan <- msg:
		return true
	case <-time.After(timeout):
		logrus.WithField("message_type", msg.Type).Warn("Timeout queueing critical hub message")
		return false
	}
}

// --- 连接生命周期 ---

// registerClient 处理新连接：登记客户端并在存储中创建瞬态成员。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to register a nil client")
		return
	}
	logCtx := logrus.WithField("connection_id", client.connectionID)

	// 存储调用使用后台 context：注册不应被上游 HTTP 请求的取消打断
	if _, err := h.shareService.Connect(context.Background(), client.connectionID); err != nil {
		logCtx.WithError(err).Error("Hub: failed to register connection, closing")
		client.conn.Close()
		return
	}

	h.roomsMu.Lock()
	h.clients[client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client connected")
}

// unregisterClient 处理连接断开：清理房间注册表、通知房间其余成员。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithField("connection_id", client.connectionID)

	h.roomsMu.Lock()
	if _, known := h.clients[client]; !known {
		h.roomsMu.Unlock()
		return // 已注销过（重复的 unregister 消息）
	}
	delete(h.clients, client)
	h.leaveRoomLocked(client)
	h.roomsMu.Unlock()
	client.shutdown()

	result, err := h.shareService.Disconnect(context.Background(), client.connectionID)
	if err != nil {
		logCtx.WithError(err).Error("Hub: disconnect cleanup failed")
		return
	}
	if !result.WasAttached() {
		logCtx.Info("Client disconnected (was not in any share)")
		return
	}

	logCtx.WithField("share_code", result.ShareCode).Info("Client disconnected, left share")
	h.notifyDeparture(client, result)
}

// notifyDeparture 向成员离开的房间广播 user_left，
// 房间仍存在时再广播刷新后的成员列表。
func (h *Hub) notifyDeparture(client *Client, left *service.DisconnectResult) {
	h.broadcast(left.ShareCode, envelope(eventUserLeft, map[string]interface{}{
		"sid": client.connectionID,
	}), nil)
	if !left.ShareClosed {
		h.broadcast(left.ShareCode, envelope(eventUserListUpdate, map[string]interface{}{
			"users": memberListPayload(left.Remaining),
		}), nil)
	}
}

// --- 事件分发 ---

// dispatchEvent 解析客户端消息信封并按事件类型处理。
// 格式错误或未知类型只影响来源连接，不触碰任何状态。
func (h *Hub) dispatchEvent(msg HubMessage) {
	var evt clientEvent
	if err := json.Unmarshal(msg.RawData, &evt); err != nil {
		logrus.WithField("connection_id", msg.Client.connectionID).WithError(err).Warn("Hub: malformed client message")
		return
	}

	switch evt.Type {
	case eventCreateShare:
		h.handleCreateShare(msg.Client, &evt)
	case eventJoinShare:
		h.handleJoinShare(msg.Client, &evt)
	case eventLocationUpdate:
		// 不改动房间注册表，异步处理避免阻塞主循环
		go h.handleLocationUpdate(msg.Client, &evt)
	default:
		logrus.WithFields(logrus.Fields{
			"connection_id": msg.Client.connectionID,
			"event_type":    evt.Type,
		}).Warn("Hub: unknown client event type")
	}
}

// handleCreateShare 处理 create_share 事件
func (h *Hub) handleCreateShare(client *Client, evt *clientEvent) {
	logCtx := logrus.WithField("connection_id", client.connectionID)

	result, err := h.shareService.CreateShare(context.Background(), client.connectionID, evt.Username)
	if err != nil {
		logCtx.WithError(err).Warn("Hub: create_share failed")
		client.enqueue(envelope(eventCreateError, map[string]interface{}{
			"message": createErrorMessage(err),
		}))
		return
	}

	h.joinRoom(client, result.Share.Code)

	// 从别的 Share 搬过来的发起者，通知其旧房间
	if result.Left != nil && result.Left.WasAttached() {
		h.notifyDeparture(client, result.Left)
	}

	client.enqueue(envelope(eventShareCreated, map[string]interface{}{
		"share_code": result.Share.Code,
		"sid":        client.connectionID,
		"color":      result.Member.Color,
		"username":   result.Member.Username,
	}))
	h.broadcast(result.Share.Code, envelope(eventUserListUpdate, map[string]interface{}{
		"users": memberListPayload(result.Members),
	}), nil)
}

// handleJoinShare 处理 join_share 事件。
// 成功后发出四类消息：给加入者的确认、给加入者的已有成员位置快照、
// 给房间其余成员的加入通知、给全房间的成员列表刷新。
func (h *Hub) handleJoinShare(client *Client, evt *clientEvent) {
	logCtx := logrus.WithFields(logrus.Fields{
		"connection_id": client.connectionID,
		"share_code":    evt.ShareCode,
	})

	if evt.ShareCode == "" {
		client.enqueue(envelope(eventJoinError, map[string]interface{}{
			"message": "Share code cannot be empty.",
		}))
		return
	}

	result, err := h.shareService.JoinShare(context.Background(), client.connectionID, evt.ShareCode, evt.Username)
	if err != nil {
		logCtx.WithError(err).Warn("Hub: join_share failed")
		client.enqueue(envelope(eventJoinError, map[string]interface{}{
			"message": joinErrorMessage(err, evt.ShareCode),
		}))
		return
	}

	code := result.Share.Code
	h.joinRoom(client, code)

	// 换房的加入者通知其旧房间；重新加入同一 Share 时不发离开事件
	if result.Left != nil && result.Left.WasAttached() && result.Left.ShareCode != code {
		h.notifyDeparture(client, result.Left)
	}

	client.enqueue(envelope(eventJoinedShare, map[string]interface{}{
		"share_code": code,
		"sid":        client.connectionID,
		"color":      result.Member.Color,
		"username":   result.Member.Username,
	}))

	if len(result.Others) > 0 {
		users := make(map[string]interface{}, len(result.Others))
		for i := range result.Others {
			users[result.Others[i].ConnectionID] = memberPayload(&result.Others[i])
		}
		client.enqueue(envelope(eventExistingUsers, map[string]interface{}{
			"users": users,
		}))
	}

	h.broadcast(code, envelope(eventUserJoined, map[string]interface{}{
		"sid":  client.connectionID,
		"data": memberPayload(result.Member),
	}), client)

	h.broadcast(code, envelope(eventUserListUpdate, map[string]interface{}{
		"users": memberListPayload(result.Members),
	}), nil)
}

// handleLocationUpdate 处理 location_update 事件。
// 非法坐标与限流丢弃都是静默的；成功时向房间其余成员广播新位置。
func (h *Hub) handleLocationUpdate(client *Client, evt *clientEvent) {
	if evt.Lat == nil || evt.Lon == nil {
		return
	}

	member, accepted, err := h.shareService.UpdateLocation(
		context.Background(), client.connectionID, evt.Lat, evt.Lon, evt.Heading)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCoordinates) || errors.Is(err, service.ErrMemberNotFound) {
			logrus.WithField("connection_id", client.connectionID).WithError(err).Debug("Hub: location update dropped")
		} else {
			logrus.WithField("connection_id", client.connectionID).WithError(err).Error("Hub: location update failed")
		}
		return
	}
	if !accepted || !member.Attached() {
		return
	}

	h.broadcast(*member.ShareCode, envelope(eventLocationBroadcast, map[string]interface{}{
		"sid":      member.ConnectionID,
		"lat":      member.Lat,
		"lon":      member.Lon,
		"heading":  member.Heading,
		"color":    member.Color,
		"username": member.Username,
	}), client)
}

// --- 房间注册表 ---

// joinRoom 将客户端登记到房间（仅 Hub 主循环调用）。
func (h *Hub) joinRoom(client *Client, code string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	h.leaveRoomLocked(client)
	if _, ok := h.rooms[code]; !ok {
		h.rooms[code] = make(map[*Client]bool)
	}
	h.rooms[code][client] = true
	client.share = code
}

// leaveRoomLocked 将客户端从其当前房间移除；房间变空时删除房间记录。
// 调用方必须持有 roomsMu。
func (h *Hub) leaveRoomLocked(client *Client) {
	if client.share == "" {
		return
	}
	if roomClients, ok := h.rooms[client.share]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, client.share)
		}
	}
	client.share = ""
}

// broadcast 将消息发送给指定房间的所有客户端，排除 sender（可为 nil）。
func (h *Hub) broadcast(code string, message []byte, sender *Client) {
	h.roomsMu.RLock()
	roomClients, ok := h.rooms[code]
	clientsToSend := make([]*Client, 0, len(roomClients))
	if ok {
		for client := range roomClients {
			if client != sender {
				clientsToSend = append(clientsToSend, client)
			}
		}
	}
	h.roomsMu.RUnlock()

	for _, client := range clientsToSend {
		client.enqueue(message)
	}
}

// --- 错误消息映射 ---

func createErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidUsername):
		return "Invalid username. Use 3-20 letters, digits, spaces, '_' or '-'."
	case errors.Is(err, service.ErrCapacityExhausted):
		return "Could not allocate a share code. Please try again."
	default:
		return "Failed to create share due to a storage error."
	}
}

func joinErrorMessage(err error, rawCode string) string {
	switch {
	case errors.Is(err, service.ErrInvalidFormat):
		return "Invalid share code format. Please use format ABC-123."
	case errors.Is(err, service.ErrInvalidUsername):
		return "Invalid username. Use 3-20 letters, digits, spaces, '_' or '-'."
	case errors.Is(err, service.ErrShareNotFound):
		return fmt.Sprintf("Share code %q not found.", rawCode)
	case errors.Is(err, service.ErrShareFull):
		return "This share is full."
	default:
		return "Failed to join share due to a storage error."
	}
}
