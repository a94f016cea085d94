package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"listenparty/internal/tasks"
)

// DefaultSweepInterval 是空闲会话清理的默认周期。
const DefaultSweepInterval = "@every 5m"

// WorkerServer 运行 asynq 任务服务器和周期任务调度器。
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *logrus.Entry
}

// NewServeMux 把每种任务类型路由到对应的处理器。
func NewServeMux(lyrics *LyricsHandler, sweep *SessionSweepHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeLyricsRefresh, lyrics)
	mux.Handle(tasks.TypeSessionSweep, sweep)
	return mux
}

// NewWorkerServer 创建 WorkerServer。sweepInterval 为空时使用 DefaultSweepInterval。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, mux *asynq.ServeMux, sweepInterval string, logger *logrus.Logger) (*WorkerServer, error) {
	logEntry := logger.WithField("component", "worker_server")

	// 创建 asynq 服务器
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10, // 并发处理任务数
			// 队列权重
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			// 统一记录失败的任务
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskLogger(ctx, task).WithError(err).Error("Task failed")
			}),
			ShutdownTimeout: 10 * time.Second,
		},
	)

	// 周期任务调度器，注册空闲会话清理
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if sweepInterval == "" {
		sweepInterval = DefaultSweepInterval
	}
	entryID, err := scheduler.Register(sweepInterval, tasks.NewSessionSweepTask())
	if err != nil {
		return nil, fmt.Errorf("register session sweep %q: %w", sweepInterval, err)
	}
	logEntry.WithFields(logrus.Fields{"entry_id": entryID, "spec": sweepInterval}).Info("Session sweep scheduled")

	return &WorkerServer{
		server:    server,
		scheduler: scheduler,
		mux:       mux,
		log:       logEntry,
	}, nil
}

// Start 非阻塞地启动任务服务器和调度器。
func (ws *WorkerServer) Start() error {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Start(ws.mux); err != nil {
		if errors.Is(err, asynq.ErrServerClosed) {
			return nil // 已关闭，不算错误
		}
		return fmt.Errorf("start worker server: %w", err)
	}
	if err := ws.scheduler.Start(); err != nil {
		ws.server.Shutdown() // 调度器起不来，服务器也一并停掉
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// Shutdown 先停调度器，再等待正在处理的任务完成。
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
