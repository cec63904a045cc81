package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	connectionID string      // 传输层分配的连接唯一标识
	share        string      // 当前所在 Share 的共享码，仅由 Hub 主循环读写
	send         chan []byte // 向此客户端发送消息的缓冲通道

	closed    chan struct{} // 关闭后不再接收出站消息
	closeOnce sync.Once
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, connectionID string) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		connectionID: connectionID,
		send:         make(chan []byte, 256),
		closed:       make(chan struct{}),
	}
}

// shutdown 标记客户端已注销，使 WritePump 退出并拒绝后续出站消息。
// 幂等，可安全多次调用。
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ConnectionID 返回连接标识。
func (c *Client) ConnectionID() string { return c.connectionID }

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的处理通道。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		// 清理操作：请求 Hub 注销此客户端。注销不允许丢失，阻塞等待入队
		c.hub.QueueCritical(HubMessage{Type: "unregister", Client: c}, time.Second)
		c.conn.Close()
		logrus.WithField("connection_id", c.connectionID).Info("readPump exited, unregistering client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithField("connection_id", c.connectionID)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		// 只处理文本消息
		if messageType != websocket.TextMessage {
			logrus.WithField("connection_id", c.connectionID).Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}

		if !c.hub.QueueMessage(HubMessage{Type: "event", Client: c, RawData: message}) {
			// Hub 处理不过来时丢弃该消息，由客户端自行重发下一次位置
			logrus.WithField("connection_id", c.connectionID).Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithField("connection_id", c.connectionID).Debug("writePump exited")
	}()

	for {
		select {
		case <-c.closed:
			// Hub 已注销此客户端，发送关闭帧后退出
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("connection_id", c.connectionID).WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			// 定期 Ping 以保活并探测断开
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithField("connection_id", c.connectionID).WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// enqueue 非阻塞地将消息放入客户端发送队列。
// 客户端已注销或通道已满时消息被丢弃。
func (c *Client) enqueue(message []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- message:
	default:
		logrus.WithField("connection_id", c.connectionID).Warn("Client send channel full, message dropped")
	}
}
