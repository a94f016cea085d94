package redisstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listenparty/internal/repository"
)

func newRepo(t *testing.T, ttl time.Duration) (*RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateRepository(client, "", ttl), mr
}

func TestRedisStateRepository_SessionRoundTrip(t *testing.T) {
	repo, mr := newRepo(t, time.Hour)
	ctx := context.Background()

	_, err := repo.Load(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	require.NoError(t, repo.Save(ctx, "r1", []byte(`{"isPlaying":true}`)))
	assert.True(t, mr.Exists("lp:room:r1:session"))
	assert.Equal(t, time.Hour, mr.TTL("lp:room:r1:session"))

	data, err := repo.Load(ctx, "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"isPlaying":true}`, string(data))

	require.NoError(t, repo.Delete(ctx, "r1"))
	_, err = repo.Load(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRedisStateRepository_SessionExpires(t *testing.T) {
	repo, mr := newRepo(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, "r1", []byte(`{}`)))

	mr.FastForward(2 * time.Minute)
	_, err := repo.Load(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestRedisStateRepository_CheckRateLimit(t *testing.T) {
	repo, mr := newRepo(t, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		over, err := repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
		require.NoError(t, err)
		assert.False(t, over)
	}
	over, err := repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, over)

	mr.FastForward(2 * time.Second)
	over, err = repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, over)
}

func TestRedisStateRepository_ReportsBackendErrors(t *testing.T) {
	repo, mr := newRepo(t, 0)
	mr.Close()

	_, err := repo.Load(context.Background(), "r1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
}
