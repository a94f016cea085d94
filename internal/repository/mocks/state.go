package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// SessionRepository is a testify mock of repository.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Save(ctx context.Context, roomID string, data []byte) error {
	return m.Called(ctx, roomID, data).Error(0)
}

func (m *SessionRepository) Load(ctx context.Context, roomID string) ([]byte, error) {
	args := m.Called(ctx, roomID)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

func (m *SessionRepository) Delete(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

// RateLimiter is a testify mock of repository.RateLimiter.
type RateLimiter struct {
	mock.Mock
}

func (m *RateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
