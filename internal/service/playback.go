package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/session"
)

// PlayInput 指定要立即播放的曲目。
type PlayInput struct {
	RoomID   string
	TrackID  string
	Provider string
}

// Play 获取曲目和播放地址，然后开始播放。
// 如果曲目在队列中，它成为队列的固定项，直到播放切到下一首。
// 之前 Play 固定的曲目会离开队列。
func (s *SessionService) Play(ctx context.Context, in PlayInput) (domain.PlaybackState, error) {
	if _, err := s.resolve(ctx, in.RoomID); err != nil {
		return domain.PlaybackState{}, err
	}
	// 网络调用都在锁外完成
	track, err := s.fetchTrack(ctx, in.Provider, in.TrackID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": in.RoomID, "track_id": in.TrackID}).WithError(err).Warn("play: Failed to fetch track")
		return domain.PlaybackState{}, err
	}
	stream, err := s.resolveStream(ctx, track)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": in.RoomID, "track_id": in.TrackID}).WithError(err).Warn("play: Failed to resolve stream")
		return domain.PlaybackState{}, err
	}
	return s.mutate(ctx, in.RoomID, "play", func(tx *session.Tx) error {
		tx.Clock.Start(track, stream)
		// 在队列中查找这首歌
		marked := ""
		for _, item := range tx.Queue.Items() {
			if item.Track.ID == track.ID && item.Track.Provider == track.Provider {
				marked = item.ID
				break
			}
		}
		// 之前固定的曲目已被替换，移出队列
		if pinned := tx.Queue.CurrentlyPlaying(); pinned != "" && pinned != marked {
			tx.Queue.DropCurrentlyPlaying()
		}
		tx.Queue.MarkCurrentlyPlaying(marked)
		return nil
	})
}

// Pause 冻结播放位置。
func (s *SessionService) Pause(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "pause", func(tx *session.Tx) error {
		tx.Clock.Pause()
		return nil
	})
}

// Resume 继续播放当前曲目。
// 没有加载曲目时改为播放队首，队列为空返回 ErrQueueEmpty。
func (s *SessionService) Resume(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	state, err := s.mutate(ctx, roomID, "resume", func(tx *session.Tx) error {
		return tx.Clock.Resume()
	})
	if !errors.Is(err, domain.ErrNoTrackToResume) {
		return state, err
	}
	// 没有可继续的曲目，从队列开始播放
	sess, err := s.resolve(ctx, roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	return s.advance(ctx, sess, nil)
}

// Skip 播放队列中的下一首。
func (s *SessionService) Skip(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	sess, err := s.resolve(ctx, roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	return s.advance(ctx, sess, nil)
}

// Seek 把播放位置移到 seconds 秒。
func (s *SessionService) Seek(ctx context.Context, roomID string, seconds float64) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "seek", func(tx *session.Tx) error {
		return tx.Clock.SeekTo(seconds)
	})
}

// SeekByPercentage 把播放位置移到曲目的 pct 百分比处。
func (s *SessionService) SeekByPercentage(ctx context.Context, roomID string, pct float64) (domain.PlaybackState, error) {
	return s.mutate(ctx, roomID, "seekByPercentage", func(tx *session.Tx) error {
		return tx.Clock.SeekByPercentage(pct)
	})
}

// advance 开始播放队列中的下一首。Play 固定的队列项就是正在被替换的曲目，
// 它会被移出队列，不会再播一遍。播放地址在锁外获取，
// 之后下一首仍然是同一项时才切换。
// gen 不为空表示由该代的播放结束定时器触发，会话在此期间有变化则放弃。
func (s *SessionService) advance(ctx context.Context, sess *session.Session, gen *uint64) (domain.PlaybackState, error) {
	const maxAttempts = 3
	logCtx := logrus.WithFields(logrus.Fields{"room_id": sess.RoomID(), "operation": "advance"})

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var (
			next    domain.QueueItem
			hasNext bool
			current uint64
		)
		// 1. 在锁内读取下一首
		if err := sess.View(func(tx *session.Tx) {
			next, hasNext = tx.Queue.Next()
			current = tx.TimerGen
		}); err != nil {
			return domain.PlaybackState{}, err
		}
		if gen != nil && current != *gen {
			return domain.PlaybackState{}, errStaleTimer
		}
		if !hasNext {
			return domain.PlaybackState{}, domain.ErrQueueEmpty
		}

		// 2. 在锁外获取播放地址
		stream, err := s.resolveStream(ctx, next.Track)
		if err != nil {
			logCtx.WithField("track_id", next.Track.ID).WithError(err).Warn("Failed to resolve stream of next track")
			return domain.PlaybackState{}, err
		}

		// 3. 重新加锁，确认队列没变再切换
		state, err := sess.Do(func(tx *session.Tx) error {
			if gen != nil && tx.TimerGen != *gen {
				return errStaleTimer
			}
			now, ok := tx.Queue.Next()
			if !ok {
				return domain.ErrQueueEmpty
			}
			if now.ID != next.ID {
				return errHeadChanged
			}
			// 先移除固定项，next 就成了队首
			tx.Queue.DropCurrentlyPlaying()
			if _, err := tx.Queue.PopFront(); err != nil {
				return err
			}
			tx.Clock.Start(next.Track, stream)
			return nil
		})
		// 队列变了，重新读取
		if errors.Is(err, errHeadChanged) {
			logCtx.Debug("Queue changed during stream resolution, retrying")
			continue
		}
		if err != nil {
			return domain.PlaybackState{}, err
		}
		s.publish(ctx, sess, state)
		logCtx.WithField("track_id", next.Track.ID).Info("Advanced to next track")
		return state, nil
	}
	return domain.PlaybackState{}, fmt.Errorf("queue kept changing while advancing (%d attempts)", maxAttempts)
}

// onTrackEnd 在 sess 当前曲目播放结束时调用。
// 有下一首则播放下一首，队列为空则停在曲目末尾。
func (s *SessionService) onTrackEnd(sess *session.Session, gen uint64) {
	ctx := sess.Context()
	logCtx := logrus.WithFields(logrus.Fields{"room_id": sess.RoomID(), "operation": "trackEnd"})

	_, err := s.advance(ctx, sess, &gen)
	switch {
	// 已切歌、定时器过期或会话已关闭，都不需要停止
	case err == nil, errors.Is(err, errStaleTimer), errors.Is(err, session.ErrClosed):
		return
	case errors.Is(err, domain.ErrQueueEmpty):
		logCtx.Debug("Queue exhausted, stopping at end of track")
	default:
		logCtx.WithError(err).Warn("Auto-advance failed, stopping at end of track")
	}

	state, err := sess.Do(func(tx *session.Tx) error {
		if tx.TimerGen != gen {
			return errStaleTimer
		}
		// 播完的曲目不再留在队列中
		tx.Queue.DropCurrentlyPlaying()
		tx.Clock.Stop()
		return nil
	})
	if err != nil {
		return
	}
	s.publish(ctx, sess, state)
}

// Reconnect 重新获取当前曲目的播放地址，保留播放位置和播放状态。
// 临时错误按退避策略重试，全部失败时停止该曲目的播放并返回 ErrNetwork。
// ctx 结束或会话被回收时放弃重试，不动播放状态。期间开始播放的其他曲目不受影响。
func (s *SessionService) Reconnect(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "reconnect"})
	sess, err := s.resolve(ctx, roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}

	// 记下要重连的曲目
	var track *domain.Track
	if err := sess.View(func(tx *session.Tx) {
		track = tx.Clock.Snapshot().Track
	}); err != nil {
		return domain.PlaybackState{}, err
	}
	if track == nil {
		return domain.PlaybackState{}, domain.ErrNoTrackPlaying
	}

	// 重试跟随会话的生命周期，调用方的 ctx 结束时也取消
	rctx, cancel := context.WithCancel(sess.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	stream, err := s.resolveStream(rctx, *track)
	if err != nil {
		// 调用方断开或会话关闭，不代表播放地址不可用
		if ctx.Err() != nil || sess.Context().Err() != nil {
			logCtx.WithField("track_id", track.ID).WithError(err).Info("Stream reconnect abandoned")
			return domain.PlaybackState{}, fmt.Errorf("%w: reconnect of %s abandoned: %v", domain.ErrNetwork, track.ID, err)
		}
		logCtx.WithField("track_id", track.ID).WithError(err).Error("Stream reconnect failed, stopping playback")
		state, stopErr := sess.Do(func(tx *session.Tx) error {
			// 只停止正在重连的那首歌
			if !sameTrack(tx.Clock.Snapshot().Track, track) {
				return errTrackChanged
			}
			tx.Clock.Stop()
			return nil
		})
		if errors.Is(stopErr, errTrackChanged) {
			return domain.PlaybackState{}, fmt.Errorf("%w: track changed during reconnect", domain.ErrNoTrackPlaying)
		}
		if stopErr == nil {
			s.publish(ctx, sess, state)
		}
		return domain.PlaybackState{}, fmt.Errorf("%w: could not reconnect stream of %s: %v", domain.ErrNetwork, track.ID, err)
	}

	state, err := sess.Do(func(tx *session.Tx) error {
		// 重连期间切了歌，新地址作废
		if !sameTrack(tx.Clock.Snapshot().Track, track) {
			return fmt.Errorf("%w: track changed during reconnect", domain.ErrNoTrackPlaying)
		}
		tx.Clock.SetStream(stream)
		return nil
	})
	if err != nil {
		return domain.PlaybackState{}, err
	}
	s.publish(ctx, sess, state)
	logCtx.Info("Stream reconnected")
	return state, nil
}

// sameTrack 比较曲目 ID 和来源
func sameTrack(a, b *domain.Track) bool {
	return a != nil && b != nil && a.ID == b.ID && a.Provider == b.Provider
}
