package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
)

const (
	// 写入消息的超时时间
	writeWait = 10 * time.Second

	// 等待下一个 Pong 的超时时间
	pongWait = 60 * time.Second

	// 发送 Ping 的周期，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10

	// 允许客户端发送的最大消息大小
	maxMessageSize = 4096

	// 每条连接的发送缓冲区大小
	sendBufferSize = 256
)

// 线上消息类型
const (
	TypePlaybackState = "playback_state"
	TypePlayerTick    = "player_tick"
	TypeLyrics        = "lyrics"
	TypeRoomClosed    = "room_closed"
	TypeError         = "error"
)

var (
	// ErrConnectionClosed 向已关闭的连接 Send 时返回
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer 发送缓冲区已满时返回
	ErrSlowConsumer = errors.New("connection send buffer full")
)

// Connection 是一条已订阅的连接。Send 不得阻塞。
type Connection interface {
	ID() string
	Send(message []byte) error
	Close()
}

// Envelope 是所有下行消息的 JSON 外层结构。
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// TrackChangeHook 在客户端遥测报告的曲目与同一房间上一次采样不同时调用。
// 第一次采样时 previous 为 nil。
type TrackChangeHook func(ctx context.Context, roomID string, previous *domain.Telemetry, current domain.Telemetry)

// Hub 维护每个房间的连接，并向它们广播消息。
type Hub struct {
	// 房间连接: map[roomID]map[connID]Connection
	rooms   map[string]map[string]Connection
	roomsMu sync.RWMutex // 保护 rooms

	// 每个房间最近一次的客户端遥测
	telemetry   map[string]domain.Telemetry
	telemetryMu sync.Mutex

	hookMu        sync.RWMutex // 保护 onTrackChange
	onTrackChange TrackChangeHook
}

// NewHub 创建一个空的 Hub。hook 可以为 nil。
func NewHub(hook TrackChangeHook) *Hub {
	return &Hub{
		rooms:         make(map[string]map[string]Connection),
		telemetry:     make(map[string]domain.Telemetry),
		onTrackChange: hook,
	}
}

// SetTrackChangeHook 替换换曲回调。
func (h *Hub) SetTrackChangeHook(hook TrackChangeHook) {
	h.hookMu.Lock()
	h.onTrackChange = hook
	h.hookMu.Unlock()
}

// AddConnection 把 conn 注册到 roomID。
func (h *Hub) AddConnection(roomID string, conn Connection) {
	if conn == nil {
		logrus.Error("Hub: Attempted to register a nil connection")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":       roomID,
		"connection_id": conn.ID(),
		"action":        "addConnection",
	})

	h.roomsMu.Lock()
	// 房间第一次有连接时创建连接集合
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]Connection)
		logCtx.Debug("Connection set created for room")
	}
	h.rooms[roomID][conn.ID()] = conn
	count := len(h.rooms[roomID])
	h.roomsMu.Unlock()
	logCtx.WithField("connections", count).Info("Connection registered to Hub")
}

// RemoveConnection 注销并关闭一条连接。
// 房间最后一条连接被移除时，同时清掉该房间的遥测。
func (h *Hub) RemoveConnection(roomID, connID string) {
	conn, empty := h.detach(roomID, connID)
	if conn == nil {
		return // 已经被移除
	}
	conn.Close()
	if empty {
		h.telemetryMu.Lock()
		delete(h.telemetry, roomID)
		h.telemetryMu.Unlock()
	}
	logrus.WithFields(logrus.Fields{
		"room_id":       roomID,
		"connection_id": connID,
		"action":        "removeConnection",
	}).Info("Connection unregistered from Hub")
}

// detach 在锁内移除连接，返回被移除的连接以及房间是否已空
func (h *Hub) detach(roomID, connID string) (Connection, bool) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	conns, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	conn, ok := conns[connID]
	if !ok {
		return nil, false
	}
	delete(conns, connID)
	// 房间已空，删除整个集合
	if len(conns) == 0 {
		delete(h.rooms, roomID)
		return conn, true
	}
	return conn, false
}

// BroadcastState 把 state 发给 roomID 的所有连接，返回成功接收的数量。
func (h *Hub) BroadcastState(roomID string, state domain.PlaybackState) int {
	n, err := h.BroadcastEvent(roomID, TypePlaybackState, state)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to marshal playback state for broadcast")
	}
	return n
}

// BroadcastEvent 把 payload 包成 event 类型的 Envelope，只序列化一次，
// 把相同的字节发给 roomID 的每条连接。发送失败的连接会被剔除，其余连接照常投递。
func (h *Hub) BroadcastEvent(roomID, event string, payload interface{}) (int, error) {
	message, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		return 0, fmt.Errorf("marshal %s event: %w", event, err)
	}
	return h.broadcast(roomID, message), nil
}

// broadcast 向房间所有连接发送已序列化的消息
func (h *Hub) broadcast(roomID string, message []byte) int {
	recipients := h.connections(roomID)
	if len(recipients) == 0 {
		return 0 // 房间没有连接
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"message_size":    len(message),
		"recipient_count": len(recipients),
	})
	logCtx.Debug("Broadcasting message to connections")

	delivered := 0
	for _, conn := range recipients {
		// Send 不阻塞，一条慢连接不会拖住其他连接
		if err := conn.Send(message); err != nil {
			logCtx.WithField("connection_id", conn.ID()).WithError(err).Warn("Send failed during broadcast, pruning connection")
			h.RemoveConnection(roomID, conn.ID())
			continue
		}
		delivered++
	}
	return delivered
}

// connections 复制 roomID 的连接列表，发送时不持有锁。
func (h *Hub) connections(roomID string) []Connection {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	conns := h.rooms[roomID]
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// SendState 只向一条连接发送 state，用于新连接的初始状态。
func (h *Hub) SendState(conn Connection, state domain.PlaybackState) error {
	message, err := json.Marshal(Envelope{Type: TypePlaybackState, Payload: state})
	if err != nil {
		return fmt.Errorf("marshal playback state: %w", err)
	}
	return conn.Send(message)
}

// HandleTelemetryTick 保存 roomID 最新的客户端采样，
// 报告的曲目与上一次不同时调用换曲回调。采样不会影响服务端的权威播放状态。
func (h *Hub) HandleTelemetryTick(ctx context.Context, roomID string, sample domain.Telemetry) {
	h.telemetryMu.Lock()
	prev, had := h.telemetry[roomID]
	h.telemetry[roomID] = sample
	h.telemetryMu.Unlock()

	// 同一首歌，不触发回调
	if had && prev.SameTrack(sample) {
		return
	}
	h.hookMu.RLock()
	hook := h.onTrackChange
	h.hookMu.RUnlock()
	if hook == nil {
		return
	}
	var previous *domain.Telemetry
	if had {
		previous = &prev
	}
	logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"track_id": sample.TrackID,
		"song":     sample.Song,
	}).Debug("Client reported a track change")
	hook(ctx, roomID, previous, sample)
}

// Telemetry 返回 roomID 最新的客户端采样。
func (h *Hub) Telemetry(roomID string) (domain.Telemetry, bool) {
	h.telemetryMu.Lock()
	defer h.telemetryMu.Unlock()
	t, ok := h.telemetry[roomID]
	return t, ok
}

// ConnectionCount 返回订阅 roomID 的连接数。
func (h *Hub) ConnectionCount(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// ActiveRoomIDs 返回至少有一条连接的房间，已排序。
func (h *Hub) ActiveRoomIDs() []string {
	h.roomsMu.RLock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	h.roomsMu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseRoom 通知并断开 roomID 的所有连接。
func (h *Hub) CloseRoom(roomID string) {
	if _, err := h.BroadcastEvent(roomID, TypeRoomClosed, map[string]string{"roomId": roomID}); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to notify room closure")
	}
	// 先通知再断开
	for _, conn := range h.connections(roomID) {
		h.RemoveConnection(roomID, conn.ID())
	}
}

// Shutdown 断开所有房间的所有连接。
func (h *Hub) Shutdown() {
	for _, roomID := range h.ActiveRoomIDs() {
		for _, conn := range h.connections(roomID) {
			h.RemoveConnection(roomID, conn.ID())
		}
	}
	logrus.WithField("component", "hub").Info("Hub shut down")
}
