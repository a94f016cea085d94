package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/hub"
	"listenparty/internal/tasks"
)

// EventLyrics 是携带歌词的广播事件类型。
const EventLyrics = "lyrics"

// ErrLyricsNotFound 表示歌词源没有这首歌的歌词。任务直接确认，不重试。
var ErrLyricsNotFound = errors.New("lyrics not found")

// Lyrics 是 lyrics 事件的 payload。
type Lyrics struct {
	TrackID string `json:"trackId"`
	Song    string `json:"song"`
	Text    string `json:"text"`
	Source  string `json:"source,omitempty"`
}

// LyricsFetcher 从外部来源获取歌词。
type LyricsFetcher interface {
	FetchLyrics(ctx context.Context, trackID, song string) (Lyrics, error)
}

// RoomBroadcaster 是歌词处理器需要的 Hub 能力。
type RoomBroadcaster interface {
	BroadcastEvent(roomID, event string, payload interface{}) (int, error)
	Telemetry(roomID string) (domain.Telemetry, bool)
}

var _ RoomBroadcaster = (*hub.Hub)(nil)

// LyricsHandler 处理 lyrics:refresh 任务。
type LyricsHandler struct {
	fetcher LyricsFetcher
	rooms   RoomBroadcaster
}

// NewLyricsHandler 创建 LyricsHandler。fetcher 可以为 nil，此时任务只记录日志并确认。
func NewLyricsHandler(fetcher LyricsFetcher, rooms RoomBroadcaster) *LyricsHandler {
	if rooms == nil {
		panic("RoomBroadcaster cannot be nil for LyricsHandler")
	}
	return &LyricsHandler{fetcher: fetcher, rooms: rooms}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *LyricsHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	// 1. 解析任务 Payload
	var payload tasks.LyricsRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Payload 错误重试也没用
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": payload.RoomID, "track_id": payload.TrackID, "song": payload.Song})

	// 2. 获取歌词
	if h.fetcher == nil {
		logCtx.Info("No lyrics source configured, acknowledging task")
		return nil
	}
	lyrics, err := h.fetcher.FetchLyrics(ctx, payload.TrackID, payload.Song)
	if errors.Is(err, ErrLyricsNotFound) {
		logCtx.Info("No lyrics found for track")
		return nil
	}
	if err != nil {
		// 返回错误让 asynq 按 MaxRetry 重试
		logCtx.WithError(err).Warn("Lyrics fetch failed")
		return fmt.Errorf("fetch lyrics for %s: %w", payload.TrackID, err)
	}

	// 3. 任务排队期间房间可能已经换歌，歌词过期则丢弃
	if current, ok := h.rooms.Telemetry(payload.RoomID); ok &&
		!current.SameTrack(domain.Telemetry{TrackID: payload.TrackID, Song: payload.Song}) {
		logCtx.WithField("current_track_id", current.TrackID).Info("Room changed track, dropping stale lyrics")
		return nil
	}
	// 4. 广播给房间
	delivered, err := h.rooms.BroadcastEvent(payload.RoomID, EventLyrics, lyrics)
	if err != nil {
		return fmt.Errorf("broadcast lyrics: %v: %w", err, asynq.SkipRetry)
	}
	logCtx.WithField("delivered", delivered).Info("Lyrics broadcast")
	return nil
}

// taskLogger 返回带任务信息的日志 Entry
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	// 直接构造的任务（例如测试中）没有 ResultWriter
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}
