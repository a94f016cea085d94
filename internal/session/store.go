// Package session binds the queue and playback clock of one room behind a
// single lock and persists their snapshot.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/repository"
)

// Store persists one room's playback snapshot. Failures are logged and
// swallowed; in-memory state stays authoritative.
type Store struct {
	repo   repository.SessionRepository
	roomID string
}

// NewStore returns the store of roomID backed by repo.
func NewStore(repo repository.SessionRepository, roomID string) *Store {
	if repo == nil {
		panic("SessionRepository cannot be nil for session.Store")
	}
	return &Store{repo: repo, roomID: roomID}
}

// Save writes state. It never fails.
func (s *Store) Save(ctx context.Context, state domain.PlaybackState) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "operation": "SessionStore.Save"})
	data, err := json.Marshal(state)
	if err != nil {
		logCtx.WithError(err).Error("Failed to encode playback snapshot")
		return
	}
	if err := s.repo.Save(ctx, s.roomID, data); err != nil {
		logCtx.WithError(err).Error("Failed to persist playback snapshot")
		return
	}
	logCtx.Debug("Playback snapshot persisted")
}

// Restore returns the last saved state, or nil when nothing usable is stored.
func (s *Store) Restore(ctx context.Context) *domain.PlaybackState {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "operation": "SessionStore.Restore"})
	data, err := s.repo.Load(ctx, s.roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.WithError(err).Error("Failed to load playback snapshot")
		}
		return nil
	}
	var state domain.PlaybackState
	if err := json.Unmarshal(data, &state); err != nil {
		logCtx.WithError(err).Warn("Discarding corrupt playback snapshot")
		return nil
	}
	if state.CurrentTrack != nil && (state.PositionSeconds < 0 || state.PositionSeconds > state.CurrentTrack.DurationSeconds) {
		logCtx.WithField("position", state.PositionSeconds).Warn("Discarding playback snapshot with out-of-range position")
		return nil
	}
	return &state
}

// Delete drops the stored snapshot.
func (s *Store) Delete(ctx context.Context) {
	if err := s.repo.Delete(ctx, s.roomID); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": s.roomID, "operation": "SessionStore.Delete"}).
			WithError(err).Error("Failed to delete playback snapshot")
	}
}
