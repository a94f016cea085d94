package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
)

// Client 是订阅某个房间的一条 WebSocket 连接。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	id       string // 连接 ID，同一成员可以有多条连接
	roomID   string
	memberID string

	mu     sync.Mutex // 保护 send 通道的关闭
	send   chan []byte
	closed bool
}

// inbound 是客户端发来的消息帧，payload 按 type 延迟解析
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewClient 包装 conn。注册到 Hub 之后再调用 Run。
func NewClient(hub *Hub, conn *websocket.Conn, roomID, memberID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		id:       uuid.NewString(),
		roomID:   roomID,
		memberID: memberID,
		send:     make(chan []byte, sendBufferSize), // 带缓冲，Send 不阻塞
	}
}

// Run 启动读写两个 goroutine。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) ID() string       { return c.id }
func (c *Client) RoomID() string   { return c.roomID }
func (c *Client) MemberID() string { return c.memberID }

// Send 非阻塞地把消息放入发送队列。
// 连接已关闭返回 ErrConnectionClosed，缓冲区满返回 ErrSlowConsumer。
func (c *Client) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		// 客户端消费太慢，交给 Hub 剔除
		return ErrSlowConsumer
	}
}

// Close 关闭 send 通道，writePump 随后发送关闭帧并断开连接。可重复调用。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"room_id":       c.roomID,
		"member_id":     c.memberID,
		"connection_id": c.id,
	})
}

// ReadPump 持续读取客户端消息，直到连接出错。
// 只识别 player_tick，其他类型忽略。
func (c *Client) ReadPump() {
	defer func() {
		// 退出时从 Hub 注销并关闭连接
		c.hub.RemoveConnection(c.roomID, c.id)
		c.conn.Close()
		c.logCtx().Debug("readPump exited")
	}()

	// 设置读取限制和 Pong 超时
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			// 正常关闭不记警告
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			}
			return // 触发 defer 中的注销
		}
		// 只处理文本消息
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleMessage(message)
	}
}

// handleMessage 解析一条客户端消息，player_tick 转交 Hub 做换曲检测
func (c *Client) handleMessage(message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logCtx().WithError(err).Warn("Dropping malformed client message")
		return
	}
	if msg.Type != TypePlayerTick {
		c.logCtx().WithField("type", msg.Type).Debug("Ignoring unrecognized client message")
		return
	}
	var sample domain.Telemetry
	if err := json.Unmarshal(msg.Payload, &sample); err != nil {
		c.logCtx().WithError(err).Warn("Dropping malformed player_tick")
		return
	}
	// 遥测只读，不会改动服务端的播放位置
	c.hub.HandleTelemetryTick(context.Background(), c.roomID, sample)
}

// WritePump 把 send 通道中的消息写入连接，并定期发送 Ping 保活。
func (c *Client) WritePump() {
	// 定时发送 Ping
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close() // 关闭连接会让 readPump 读失败并注销
		c.logCtx().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			// 设置写入超时
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道已被 Close 关闭，发送关闭帧
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}
