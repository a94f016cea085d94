package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listenparty/internal/domain"
	"listenparty/internal/repository"
)

func TestStore_RoomLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.FindByID(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.Save(ctx, &domain.Room{ID: "r1", Name: "Chill"}))
	require.NoError(t, s.Members().Save(ctx, &domain.RoomMember{ID: "m1", RoomID: "r1"}))
	require.NoError(t, s.Invites().Create(ctx, &domain.RoomInvite{Code: "AAAAAA", RoomID: "r1"}))

	room, err := s.FindByID(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, room.CreatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "r1"))
	members, err := s.Members().FindByRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, members)
	exists, err := s.Invites().IsCodeExists(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_InviteDuplicate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Invites().Create(ctx, &domain.RoomInvite{Code: "X", RoomID: "r"}))
	assert.ErrorIs(t, s.Invites().Create(ctx, &domain.RoomInvite{Code: "X", RoomID: "r"}), repository.ErrDuplicateEntry)
	assert.ErrorIs(t, s.Invites().Update(ctx, &domain.RoomInvite{Code: "Y"}), repository.ErrNotFound)
}

func TestStore_SessionsCopyData(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	data := []byte("abc")
	require.NoError(t, s.Sessions().Save(ctx, "r", data))
	data[0] = 'z'

	got, err := s.Sessions().Load(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestStore_CheckRateLimit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		over, err := s.CheckRateLimit(ctx, "ip", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, over)
	}
	over, err := s.CheckRateLimit(ctx, "ip", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, over)
}
