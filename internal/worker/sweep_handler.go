package worker

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// SessionEvictor 由 *service.SessionService 实现。
type SessionEvictor interface {
	EvictIdle(ctx context.Context, now time.Time) int
	ActiveSessions() int
}

// SessionSweepHandler 处理周期性的 session:sweep 任务。
type SessionSweepHandler struct {
	sessions SessionEvictor
	clock    clock.Clock
}

// NewSessionSweepHandler 创建 SessionSweepHandler。clk 可以为 nil。
func NewSessionSweepHandler(sessions SessionEvictor, clk clock.Clock) *SessionSweepHandler {
	if sessions == nil {
		panic("SessionEvictor cannot be nil for SessionSweepHandler")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SessionSweepHandler{sessions: sessions, clock: clk}
}

// ProcessTask 实现 asynq.Handler 接口。
// 单个会话回收失败由 evictor 记录日志，不会让整个清理任务失败。
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	// 回收超过空闲时间的会话
	evicted := h.sessions.EvictIdle(ctx, h.clock.Now())
	logCtx.WithFields(logrus.Fields{
		"evicted":   evicted,
		"remaining": h.sessions.ActiveSessions(),
	}).Info("Idle session sweep completed")
	return nil
}
