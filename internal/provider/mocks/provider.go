// Package mocks holds testify mocks of the provider port.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"listenparty/internal/domain"
)

// MusicProvider is a testify mock of provider.MusicProvider.
type MusicProvider struct {
	mock.Mock
	ProviderName string
}

func (m *MusicProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MusicProvider) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	args := m.Called(ctx, query, limit)
	var tracks []domain.Track
	if v := args.Get(0); v != nil {
		tracks = v.([]domain.Track)
	}
	return tracks, args.Error(1)
}

func (m *MusicProvider) GetTrack(ctx context.Context, id string) (domain.Track, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Track), args.Error(1)
}

func (m *MusicProvider) GetStreamURL(ctx context.Context, id string) (domain.StreamInfo, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.StreamInfo), args.Error(1)
}

func (m *MusicProvider) IsAvailable(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}
