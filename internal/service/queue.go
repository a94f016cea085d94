package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/session"
)

// AddToQueueInput 指定要加入房间队列的曲目。
type AddToQueueInput struct {
	RoomID   string
	TrackID  string
	Provider string
	AddedBy  string
}

// AddToQueue 获取曲目并追加到队尾。即使当前没有在播放，也不会自动开始播放。
func (s *SessionService) AddToQueue(ctx context.Context, in AddToQueueInput) (domain.PlaybackState, error) {
	if _, err := s.resolve(ctx, in.RoomID); err != nil {
		return domain.PlaybackState{}, err
	}
	track, err := s.fetchTrack(ctx, in.Provider, in.TrackID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": in.RoomID, "track_id": in.TrackID}).WithError(err).Warn("addToQueue: Failed to fetch track")
		return domain.PlaybackState{}, err
	}
	// 队列满时 Enqueue 返回 ErrQueueFull
	return s.mutate(ctx, in.RoomID, "addToQueue", func(tx *session.Tx) error {
		_, err := tx.Queue.Enqueue(track, in.AddedBy)
		return err
	})
}

// RemoveFromQueue 移除 position 处的队列项。
func (s *SessionService) RemoveFromQueue(ctx context.Context, roomID string, position int) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "removeFromQueue", func(tx *session.Tx) error {
		_, err := tx.Queue.Remove(position)
		return err
	})
}

// ReorderQueue 把 from 处的队列项移到 to。
func (s *SessionService) ReorderQueue(ctx context.Context, roomID string, from, to int) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "reorderQueue", func(tx *session.Tx) error {
		return tx.Queue.Reorder(from, to)
	})
}

// ClearQueue 清空队列，当前曲目继续播放。
func (s *SessionService) ClearQueue(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "clearQueue", func(tx *session.Tx) error {
		tx.Queue.Clear()
		return nil
	})
}

// ShuffleQueue 切换随机播放。关闭时恢复开启随机前的顺序。
func (s *SessionService) ShuffleQueue(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "shuffleQueue", func(tx *session.Tx) error {
		tx.Queue.ToggleShuffle()
		return nil
	})
}

// GetQueue 按顺序返回队列中的曲目。
func (s *SessionService) GetQueue(ctx context.Context, roomID string) ([]domain.Track, error) {
	state, err := s.GetState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return state.Tracks(), nil
}
