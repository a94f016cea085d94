package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listenparty/internal/domain"
	"listenparty/internal/tasks"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func TestNewLyricsRefreshTask(t *testing.T) {
	task, err := tasks.NewLyricsRefreshTask("r1", "t1", "Song")
	require.NoError(t, err)

	assert.Equal(t, tasks.TypeLyricsRefresh, task.Type())
	var payload tasks.LyricsRefreshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, tasks.LyricsRefreshPayload{RoomID: "r1", TrackID: "t1", Song: "Song"}, payload)
}

func TestLyricsHook_EnqueuesOnTrackChange(t *testing.T) {
	enq := &fakeEnqueuer{}
	hook := tasks.NewLyricsHook(enq)

	hook(context.Background(), "r1", nil, domain.Telemetry{TrackID: "t1", Song: "First"})
	hook(context.Background(), "r1", nil, domain.Telemetry{})

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, tasks.TypeLyricsRefresh, enq.tasks[0].Type())
}

func TestLyricsHook_SwallowsEnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	hook := tasks.NewLyricsHook(enq)

	assert.NotPanics(t, func() {
		hook(context.Background(), "r1", nil, domain.Telemetry{TrackID: "t1"})
	})
	assert.Empty(t, enq.tasks)
}
