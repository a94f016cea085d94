package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/hub"
)

// 任务类型
const (
	TypeLyricsRefresh = "lyrics:refresh"
	TypeSessionSweep  = "session:sweep"
)

// LyricsRefreshPayload 标识房间切换到的曲目。
type LyricsRefreshPayload struct {
	RoomID  string `json:"roomId"`
	TrackID string `json:"trackId"`
	Song    string `json:"song"`
}

// NewLyricsRefreshTask 创建 lyrics:refresh 任务。
func NewLyricsRefreshTask(roomID, trackID, song string) (*asynq.Task, error) {
	payload, err := json.Marshal(LyricsRefreshPayload{RoomID: roomID, TrackID: trackID, Song: song})
	if err != nil {
		return nil, fmt.Errorf("marshal lyrics payload: %w", err)
	}
	return asynq.NewTask(TypeLyricsRefresh, payload,
		asynq.MaxRetry(3),             // 最多重试 3 次
		asynq.Timeout(30*time.Second), // 单次执行超时
	), nil
}

// NewSessionSweepTask 创建周期性的空闲会话清理任务，不重试。
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSessionSweep, nil, asynq.MaxRetry(0), asynq.Timeout(time.Minute))
}

// Enqueuer 由 *asynq.Client 实现。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewLyricsHook 返回一个 Hub 换曲回调，为新报告的曲目投递歌词刷新任务。
func NewLyricsHook(enqueuer Enqueuer) hub.TrackChangeHook {
	if enqueuer == nil {
		panic("Enqueuer cannot be nil for lyrics hook")
	}
	return func(ctx context.Context, roomID string, _ *domain.Telemetry, current domain.Telemetry) {
		logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "track_id": current.TrackID, "song": current.Song})
		// 没有曲目信息，无法查询歌词
		if current.TrackID == "" && current.Song == "" {
			logCtx.Debug("Track change without track identity, skipping lyrics refresh")
			return
		}
		task, err := NewLyricsRefreshTask(roomID, current.TrackID, current.Song)
		if err != nil {
			logCtx.WithError(err).Error("Failed to build lyrics refresh task")
			return
		}
		// 投递任务到 asynq
		info, err := enqueuer.EnqueueContext(ctx, task)
		if err != nil {
			logCtx.WithError(err).Error("Failed to enqueue lyrics refresh task")
			return
		}
		logCtx.WithField("task_id", info.ID).Debug("Lyrics refresh task enqueued")
	}
}
