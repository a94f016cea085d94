package service_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"listenparty/internal/domain"
	"listenparty/internal/hub"
	"listenparty/internal/infra/persistence/memory"
	"listenparty/internal/provider"
	providermocks "listenparty/internal/provider/mocks"
	"listenparty/internal/service"
)

var fastRetry = provider.Policy{Attempts: 3, BaseDelay: time.Millisecond}

type fakeConn struct {
	id string

	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return hub.ErrConnectionClosed
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.messages...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func catalogTracks() []domain.Track {
	return []domain.Track{
		{ID: "a", Title: "Alpha", Artist: "Band", DurationSeconds: 10, ExternalURL: "https://cdn.example/a.mp3"},
		{ID: "b", Title: "Bravo", Artist: "Band", DurationSeconds: 180, ExternalURL: "https://cdn.example/b.ogg"},
		{ID: "c", Title: "Charlie", Artist: "Other", DurationSeconds: 120, ExternalURL: "https://cdn.example/c.mp3"},
		{ID: "d", Title: "Delta", Artist: "Other", DurationSeconds: 120, ExternalURL: "https://cdn.example/d.mp3"},
		{ID: "e", Title: "Echo", Artist: "Other", DurationSeconds: 120, ExternalURL: "https://cdn.example/e.mp3"},
		{ID: "x", Title: "Xray", Artist: "Solo", DurationSeconds: 200, ExternalURL: "https://cdn.example/x.mp3"},
	}
}

type fixture struct {
	clock    *clock.Mock
	store    *memory.Store
	hub      *hub.Hub
	rooms    *service.RoomService
	sessions *service.SessionService
	roomID   string
	hostID   string
}

func newFixture(t *testing.T, cfg service.SessionConfig, providers ...provider.MusicProvider) *fixture {
	t.Helper()
	if len(providers) == 0 {
		providers = []provider.MusicProvider{provider.NewCatalog(provider.CatalogName, catalogTracks())}
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = fastRetry
	}
	if cfg.Rand == nil {
		cfg.Rand = func() *rand.Rand { return rand.New(rand.NewSource(7)) }
	}
	mc := clock.NewMock()
	store := memory.NewStore()
	rooms := service.NewRoomService(store, store.Members(), store.Invites(), newTokens(t), service.RoomConfig{}, mc)
	h := hub.NewHub(nil)
	sessions := service.NewSessionService(rooms, h, provider.NewRegistry(providers...), store.Sessions(), cfg, mc)
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })

	created, err := rooms.CreateRoom(context.Background(), service.CreateRoomInput{Name: "Chill", HostName: "Alice"})
	require.NoError(t, err)
	return &fixture{
		clock:    mc,
		store:    store,
		hub:      h,
		rooms:    rooms,
		sessions: sessions,
		roomID:   created.Room.ID,
		hostID:   created.Member.ID,
	}
}

func (f *fixture) enqueue(t *testing.T, ids ...string) domain.PlaybackState {
	t.Helper()
	var state domain.PlaybackState
	for _, id := range ids {
		var err error
		state, err = f.sessions.AddToQueue(context.Background(), service.AddToQueueInput{
			RoomID: f.roomID, TrackID: id, Provider: provider.CatalogName, AddedBy: f.hostID,
		})
		require.NoError(t, err)
	}
	return state
}

func (f *fixture) play(t *testing.T, id string) domain.PlaybackState {
	t.Helper()
	state, err := f.sessions.Play(context.Background(), service.PlayInput{RoomID: f.roomID, TrackID: id, Provider: provider.CatalogName})
	require.NoError(t, err)
	return state
}

func trackIDs(items []domain.QueueItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Track.ID)
	}
	return ids
}

func TestSessionService_ResumeStartsQueueHead(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()

	state := f.enqueue(t, "a", "b")
	assert.Nil(t, state.CurrentTrack, "adding to the queue must not auto-start")
	assert.False(t, state.IsPlaying)
	assert.Equal(t, []string{"a", "b"}, trackIDs(state.Queue))

	state, err := f.sessions.Resume(ctx, f.roomID)
	require.NoError(t, err)
	require.NotNil(t, state.CurrentTrack)
	assert.Equal(t, "a", state.CurrentTrack.ID)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, "https://cdn.example/a.mp3", state.StreamURL)
	assert.Equal(t, []string{"b"}, trackIDs(state.Queue))
	assert.Equal(t, 0, state.Queue[0].Position)
}

func TestSessionService_PlayPauseResumeTiming(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()

	state := f.play(t, "x")
	assert.Equal(t, "x", state.CurrentTrack.ID)
	assert.Zero(t, state.PositionSeconds)

	f.clock.Add(5 * time.Second)
	state, err := f.sessions.Pause(ctx, f.roomID)
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.InDelta(t, 5, state.PositionSeconds, 1e-6)

	f.clock.Add(time.Minute)
	state, err = f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.InDelta(t, 5, state.PositionSeconds, 1e-6)

	_, err = f.sessions.Resume(ctx, f.roomID)
	require.NoError(t, err)
	f.clock.Add(3 * time.Second)
	state, err = f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.InDelta(t, 8, state.PositionSeconds, 1e-6)
}

func TestSessionService_Seek(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()

	_, err := f.sessions.Seek(ctx, f.roomID, 10)
	assert.ErrorIs(t, err, domain.ErrNoTrackPlaying)

	f.play(t, "x")
	state, err := f.sessions.SeekByPercentage(ctx, f.roomID, 50)
	require.NoError(t, err)
	assert.InDelta(t, 100, state.PositionSeconds, 1e-6)

	_, err = f.sessions.Seek(ctx, f.roomID, 201)
	assert.ErrorIs(t, err, domain.ErrInvalidSeekPosition)
	_, err = f.sessions.SeekByPercentage(ctx, f.roomID, 101)
	assert.ErrorIs(t, err, domain.ErrInvalidSeekPosition)

	state, err = f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.InDelta(t, 100, state.PositionSeconds, 1e-6, "failed seeks must leave the position alone")

	state, err = f.sessions.Seek(ctx, f.roomID, 200)
	require.NoError(t, err)
	assert.InDelta(t, 200, state.PositionSeconds, 1e-6)
}

func TestSessionService_EmptyQueueErrors(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()

	_, err := f.sessions.Resume(ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)
	_, err = f.sessions.Skip(ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	state, err := f.sessions.Pause(ctx, f.roomID)
	require.NoError(t, err)
	assert.Nil(t, state.CurrentTrack)
}

func TestSessionService_SkipAdvances(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	f.play(t, "x")
	f.enqueue(t, "b", "c")

	state, err := f.sessions.Skip(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "b", state.CurrentTrack.ID)
	assert.Equal(t, "ogg", state.StreamFormat)
	assert.Equal(t, []string{"c"}, trackIDs(state.Queue))
}

func TestSessionService_UnknownRoomAndProvider(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()

	_, err := f.sessions.Pause(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = f.sessions.Play(ctx, service.PlayInput{RoomID: f.roomID, TrackID: "x", Provider: "nope"})
	assert.ErrorIs(t, err, domain.ErrProvider)

	_, err = f.sessions.AddToQueue(ctx, service.AddToQueueInput{RoomID: f.roomID, TrackID: "zzz", Provider: provider.CatalogName})
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)
	assert.Zero(t, f.hub.ConnectionCount(f.roomID))
}

func TestSessionService_MutationsArePublished(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	require.NoError(t, f.sessions.Subscribe(ctx, f.roomID, a))
	require.NoError(t, f.sessions.Subscribe(ctx, f.roomID, b))
	require.Len(t, a.received(), 1, "subscribers get the current state at once")

	state := f.play(t, "x")

	require.Len(t, a.received(), 2)
	require.Len(t, b.received(), 2)
	assert.Equal(t, a.received()[1], b.received()[1])

	var env struct {
		Type    string               `json:"type"`
		Payload domain.PlaybackState `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(a.received()[1], &env))
	assert.Equal(t, hub.TypePlaybackState, env.Type)
	assert.Equal(t, state.Timestamp, env.Payload.Timestamp)

	mirrored, ok := f.rooms.GetPlaybackState(f.roomID)
	require.True(t, ok)
	assert.Equal(t, "x", mirrored.CurrentTrack.ID)

	raw, err := f.store.Sessions().Load(ctx, f.roomID)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"x"`)

	_, err = f.sessions.Seek(ctx, f.roomID, 999)
	require.Error(t, err)
	assert.Len(t, a.received(), 2, "rejected mutations are not broadcast")
}

func TestSessionService_QueueOperations(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	before := f.enqueue(t, "a", "b", "c", "d", "e")

	same, err := f.sessions.ReorderQueue(ctx, f.roomID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, before.Queue, same.Queue)

	state, err := f.sessions.ReorderQueue(ctx, f.roomID, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "e", "a"}, trackIDs(state.Queue))

	_, err = f.sessions.ReorderQueue(ctx, f.roomID, 0, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)
	_, err = f.sessions.RemoveFromQueue(ctx, f.roomID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)

	state, err = f.sessions.RemoveFromQueue(ctx, f.roomID, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "e"}, trackIDs(state.Queue))

	tracks, err := f.sessions.GetQueue(ctx, f.roomID)
	require.NoError(t, err)
	require.Len(t, tracks, 4)
	assert.Equal(t, "b", tracks[0].ID)

	state, err = f.sessions.ClearQueue(ctx, f.roomID)
	require.NoError(t, err)
	assert.Empty(t, state.Queue)
}

func TestSessionService_ShuffleToggleRestoresOrder(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	before := f.enqueue(t, "a", "b", "c", "d", "e")

	shuffled, err := f.sessions.ShuffleQueue(ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, shuffled.ShuffleEnabled)
	assert.ElementsMatch(t, trackIDs(before.Queue), trackIDs(shuffled.Queue))

	restored, err := f.sessions.ShuffleQueue(ctx, f.roomID)
	require.NoError(t, err)
	assert.False(t, restored.ShuffleEnabled)
	assert.Equal(t, trackIDs(before.Queue), trackIDs(restored.Queue))
}

func TestSessionService_PlayPinsQueuedTrackDuringShuffle(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.enqueue(t, "a", "b", "c", "d", "e")
	f.play(t, "d")

	for i := 0; i < 5; i++ {
		_, err := f.sessions.ShuffleQueue(ctx, f.roomID)
		require.NoError(t, err)
		state, err := f.sessions.ShuffleQueue(ctx, f.roomID)
		require.NoError(t, err)
		assert.False(t, state.ShuffleEnabled)
	}
	state, err := f.sessions.ShuffleQueue(ctx, f.roomID)
	require.NoError(t, err)
	require.True(t, state.ShuffleEnabled)
	assert.Equal(t, "d", state.Queue[0].Track.ID)
}

func TestSessionService_SkipAfterPlayingQueuedTrack(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	f.enqueue(t, "a", "b")
	f.play(t, "a")

	state, err := f.sessions.Skip(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "b", state.CurrentTrack.ID)
	assert.Empty(t, state.Queue)
}

func TestSessionService_AutoAdvanceAfterPlayingQueuedTrack(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.enqueue(t, "a", "b")
	f.play(t, "a")

	f.clock.Add(11 * time.Second)
	assert.Eventually(t, func() bool {
		state, err := f.sessions.GetState(ctx, f.roomID)
		return err == nil && state.CurrentTrack != nil && state.CurrentTrack.ID == "b"
	}, time.Second, 5*time.Millisecond)

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.Less(t, state.PositionSeconds, 1.0)
	assert.Empty(t, state.Queue)
}

func TestSessionService_SkipWhileShuffledDropsPinnedTrack(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.enqueue(t, "a", "b", "c", "d", "e")
	f.play(t, "d")
	shuffled, err := f.sessions.ShuffleQueue(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, "d", shuffled.Queue[0].Track.ID)

	state, err := f.sessions.Skip(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, shuffled.Queue[1].Track.ID, state.CurrentTrack.ID)
	assert.Equal(t, trackIDs(shuffled.Queue[2:]), trackIDs(state.Queue))
	assert.NotContains(t, trackIDs(state.Queue), "d")
}

func TestSessionService_PlayingAnotherQueuedTrackDropsPreviousPin(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	f.enqueue(t, "a", "b", "c")
	f.play(t, "b")
	state := f.play(t, "c")
	assert.Equal(t, []string{"a", "c"}, trackIDs(state.Queue))

	state, err := f.sessions.Skip(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "a", state.CurrentTrack.ID)
	assert.Empty(t, state.Queue)
}

func TestSessionService_OnlyPinnedTrackLeft(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.enqueue(t, "a")
	f.play(t, "a")

	_, err := f.sessions.Skip(ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)
	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "a", state.CurrentTrack.ID)
	assert.True(t, state.IsPlaying)

	f.clock.Add(11 * time.Second)
	assert.Eventually(t, func() bool {
		state, err := f.sessions.GetState(ctx, f.roomID)
		return err == nil && !state.IsPlaying
	}, time.Second, 5*time.Millisecond)
	state, err = f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "a", state.CurrentTrack.ID)
	assert.Empty(t, state.Queue)
}

func TestSessionService_QueueFull(t *testing.T) {
	f := newFixture(t, service.SessionConfig{MaxQueueSize: 2})
	f.enqueue(t, "a", "b")
	_, err := f.sessions.AddToQueue(context.Background(), service.AddToQueueInput{RoomID: f.roomID, TrackID: "c", Provider: provider.CatalogName})
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestSessionService_AutoAdvanceAtEndOfTrack(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.enqueue(t, "a", "b")
	_, err := f.sessions.Resume(ctx, f.roomID)
	require.NoError(t, err)

	f.clock.Add(11 * time.Second)
	assert.Eventually(t, func() bool {
		state, err := f.sessions.GetState(ctx, f.roomID)
		return err == nil && state.CurrentTrack != nil && state.CurrentTrack.ID == "b"
	}, time.Second, 5*time.Millisecond)

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.Empty(t, state.Queue)
}

func TestSessionService_StopsAtEndWithEmptyQueue(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.play(t, "a")

	f.clock.Add(15 * time.Second)
	assert.Eventually(t, func() bool {
		state, err := f.sessions.GetState(ctx, f.roomID)
		return err == nil && !state.IsPlaying
	}, time.Second, 5*time.Millisecond)

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "a", state.CurrentTrack.ID)
	assert.InDelta(t, 10, state.PositionSeconds, 1e-6)
}

func TestSessionService_ReconnectKeepsPosition(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.play(t, "x")
	f.clock.Add(30 * time.Second)

	state, err := f.sessions.Reconnect(ctx, f.roomID)
	require.NoError(t, err)
	assert.True(t, state.IsPlaying)
	assert.InDelta(t, 30, state.PositionSeconds, 1e-6)
	assert.Equal(t, "https://cdn.example/x.mp3", state.StreamURL)

	_, err = newFixture(t, service.SessionConfig{}).sessions.Reconnect(ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSessionService_ReconnectFailureStopsPlayback(t *testing.T) {
	flaky := &providermocks.MusicProvider{ProviderName: "flaky"}
	track := domain.Track{ID: "t1", Title: "Song", Artist: "Band", DurationSeconds: 200}
	flaky.On("GetTrack", mock.Anything, "t1").Return(track, nil).Once()
	flaky.On("GetStreamURL", mock.Anything, "t1").Return(domain.StreamInfo{URL: "u1"}, nil).Once()
	flaky.On("GetStreamURL", mock.Anything, "t1").Return(domain.StreamInfo{}, domain.ErrNetwork).Times(3)

	f := newFixture(t, service.SessionConfig{}, flaky)
	ctx := context.Background()
	_, err := f.sessions.Play(ctx, service.PlayInput{RoomID: f.roomID, TrackID: "t1", Provider: "flaky"})
	require.NoError(t, err)
	f.clock.Add(20 * time.Second)

	_, err = f.sessions.Reconnect(ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.InDelta(t, 20, state.PositionSeconds, 1e-6)
	flaky.AssertExpectations(t)
}

func TestSessionService_ReconnectAbandonedOnTeardown(t *testing.T) {
	stuck := &providermocks.MusicProvider{ProviderName: "stuck"}
	track := domain.Track{ID: "t1", Title: "Song", Artist: "Band", DurationSeconds: 200}
	called := make(chan struct{}, 10)
	stuck.On("GetTrack", mock.Anything, "t1").Return(track, nil).Once()
	stuck.On("GetStreamURL", mock.Anything, "t1").Return(domain.StreamInfo{URL: "u1"}, nil).Once()
	stuck.On("GetStreamURL", mock.Anything, "t1").Run(func(mock.Arguments) { called <- struct{}{} }).Return(domain.StreamInfo{}, domain.ErrNetwork)

	f := newFixture(t, service.SessionConfig{Retry: provider.Policy{Attempts: 5, BaseDelay: time.Hour}}, stuck)
	ctx := context.Background()
	_, err := f.sessions.Play(ctx, service.PlayInput{RoomID: f.roomID, TrackID: "t1", Provider: "stuck"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.sessions.Reconnect(ctx, f.roomID)
		done <- err
	}()
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never reached the provider")
	}

	assert.Equal(t, 1, f.sessions.EvictIdle(ctx, f.clock.Now().Add(time.Hour)))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrNetwork)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect was not abandoned when the session was torn down")
	}
}

func TestSessionService_SkipGivesUpWhenQueueKeepsChanging(t *testing.T) {
	churn := &providermocks.MusicProvider{ProviderName: "churn"}
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		churn.On("GetTrack", mock.Anything, id).
			Return(domain.Track{ID: id, Title: "Song " + id, Artist: "Band", DurationSeconds: 100}, nil).Once()
	}
	f := newFixture(t, service.SessionConfig{}, churn)
	ctx := context.Background()
	// every stream lookup loses the race against someone removing the head
	churn.On("GetStreamURL", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		_, err := f.sessions.RemoveFromQueue(ctx, f.roomID, 0)
		require.NoError(t, err)
	}).Return(domain.StreamInfo{URL: "u"}, nil)

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		_, err := f.sessions.AddToQueue(ctx, service.AddToQueueInput{RoomID: f.roomID, TrackID: id, Provider: "churn"})
		require.NoError(t, err)
	}

	_, err := f.sessions.Skip(ctx, f.roomID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidPosition)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	churn.AssertNumberOfCalls(t, "GetStreamURL", 3)
}

func TestSessionService_RejectsNegativeDurationTrack(t *testing.T) {
	bad := &providermocks.MusicProvider{ProviderName: "bad"}
	bad.On("GetTrack", mock.Anything, "t1").
		Return(domain.Track{ID: "t1", Title: "Song", Artist: "Band", DurationSeconds: -5}, nil).Once()

	f := newFixture(t, service.SessionConfig{}, bad)
	_, err := f.sessions.Play(context.Background(), service.PlayInput{RoomID: f.roomID, TrackID: "t1", Provider: "bad"})
	assert.ErrorIs(t, err, domain.ErrProvider)
	bad.AssertExpectations(t)
}

func TestSessionService_ReconnectFailureKeepsNewerTrack(t *testing.T) {
	flaky := &providermocks.MusicProvider{ProviderName: "flaky"}
	track := domain.Track{ID: "t1", Title: "Song", Artist: "Band", DurationSeconds: 200}
	resolving := make(chan struct{})
	release := make(chan struct{})
	flaky.On("GetTrack", mock.Anything, "t1").Return(track, nil).Once()
	flaky.On("GetStreamURL", mock.Anything, "t1").Return(domain.StreamInfo{URL: "u1"}, nil).Once()
	flaky.On("GetStreamURL", mock.Anything, "t1").Run(func(mock.Arguments) {
		close(resolving)
		<-release
	}).Return(domain.StreamInfo{}, domain.ErrNetwork).Once()

	f := newFixture(t, service.SessionConfig{Retry: provider.Policy{Attempts: 1}},
		flaky, provider.NewCatalog(provider.CatalogName, catalogTracks()))
	ctx := context.Background()
	_, err := f.sessions.Play(ctx, service.PlayInput{RoomID: f.roomID, TrackID: "t1", Provider: "flaky"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.sessions.Reconnect(ctx, f.roomID)
		done <- err
	}()
	select {
	case <-resolving:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never reached the provider")
	}
	f.play(t, "b")
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrNoTrackPlaying)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not return")
	}
	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "b", state.CurrentTrack.ID)
	assert.True(t, state.IsPlaying)
	flaky.AssertExpectations(t)
}

func TestSessionService_ReconnectCancelledByCallerKeepsPlaying(t *testing.T) {
	flaky := &providermocks.MusicProvider{ProviderName: "flaky"}
	track := domain.Track{ID: "t1", Title: "Song", Artist: "Band", DurationSeconds: 200}
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	flaky.On("GetTrack", mock.Anything, "t1").Return(track, nil).Once()
	flaky.On("GetStreamURL", mock.Anything, "t1").Return(domain.StreamInfo{URL: "u1"}, nil).Once()
	flaky.On("GetStreamURL", mock.Anything, "t1").Run(func(mock.Arguments) { cancel() }).
		Return(domain.StreamInfo{}, domain.ErrNetwork).Once()

	f := newFixture(t, service.SessionConfig{Retry: provider.Policy{Attempts: 5, BaseDelay: time.Hour}}, flaky)
	ctx := context.Background()
	_, err := f.sessions.Play(ctx, service.PlayInput{RoomID: f.roomID, TrackID: "t1", Provider: "flaky"})
	require.NoError(t, err)

	_, err = f.sessions.Reconnect(reqCtx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "t1", state.CurrentTrack.ID)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, "u1", state.StreamURL)
	flaky.AssertExpectations(t)
}

func TestSessionService_Search(t *testing.T) {
	broken := &providermocks.MusicProvider{ProviderName: "broken"}
	broken.On("IsAvailable", mock.Anything).Return(true)
	broken.On("Search", mock.Anything, "band", 20).Return(nil, domain.ErrNetwork)

	partial := &providermocks.MusicProvider{ProviderName: "partial"}
	partial.On("IsAvailable", mock.Anything).Return(true)
	partial.On("Search", mock.Anything, "band", 20).Return([]domain.Track{
		{ID: "p1", Title: "Band Song", Artist: "Band"},
		{ID: "p2", Title: "", Artist: "Band"},
	}, nil)

	offline := &providermocks.MusicProvider{ProviderName: "offline"}
	offline.On("IsAvailable", mock.Anything).Return(false)

	catalog := provider.NewCatalog(provider.CatalogName, catalogTracks())
	f := newFixture(t, service.SessionConfig{}, catalog, broken, partial, offline)

	tracks, err := f.sessions.Search(context.Background(), "band", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(tracks))
	for _, tr := range tracks {
		ids = append(ids, tr.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "p1"}, ids)
	for _, tr := range tracks {
		assert.NotEmpty(t, tr.Provider)
	}

	broken.AssertNumberOfCalls(t, "Search", 3)
	offline.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)

	empty, err := f.sessions.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionService_SearchFailsWhenEveryProviderFails(t *testing.T) {
	broken := &providermocks.MusicProvider{ProviderName: "broken"}
	broken.On("IsAvailable", mock.Anything).Return(true)
	broken.On("Search", mock.Anything, "x", 5).Return(nil, domain.ErrRateLimit)

	f := newFixture(t, service.SessionConfig{}, broken)
	_, err := f.sessions.Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, domain.ErrProvider)
	broken.AssertNumberOfCalls(t, "Search", 1)
}

func TestSessionService_EvictIdleAndRestore(t *testing.T) {
	f := newFixture(t, service.SessionConfig{IdleTimeout: 10 * time.Minute})
	ctx := context.Background()
	f.enqueue(t, "b")
	f.play(t, "x")
	f.clock.Add(42 * time.Second)

	conn := &fakeConn{id: "c"}
	require.NoError(t, f.sessions.Subscribe(ctx, f.roomID, conn))
	assert.Zero(t, f.sessions.EvictIdle(ctx, f.clock.Now().Add(time.Hour)), "rooms with sockets stay resident")

	f.hub.RemoveConnection(f.roomID, conn.ID())
	assert.Zero(t, f.sessions.EvictIdle(ctx, f.clock.Now().Add(time.Minute)))
	assert.Equal(t, 1, f.sessions.EvictIdle(ctx, f.clock.Now().Add(time.Hour)))
	assert.Zero(t, f.sessions.ActiveSessions())

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sessions.ActiveSessions())
	assert.False(t, state.IsPlaying, "restored sessions come back paused")
	assert.Equal(t, "x", state.CurrentTrack.ID)
	assert.InDelta(t, 42, state.PositionSeconds, 1e-6)
	assert.Equal(t, []string{"b"}, trackIDs(state.Queue))
}

func TestSessionService_DeleteRoom(t *testing.T) {
	f := newFixture(t, service.SessionConfig{})
	ctx := context.Background()
	f.play(t, "x")
	conn := &fakeConn{id: "c"}
	require.NoError(t, f.sessions.Subscribe(ctx, f.roomID, conn))

	require.NoError(t, f.sessions.DeleteRoom(ctx, f.roomID, f.hostID))
	assert.True(t, conn.isClosed())
	last := conn.received()[len(conn.received())-1]
	assert.Contains(t, string(last), hub.TypeRoomClosed)

	_, err := f.sessions.GetState(ctx, f.roomID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = f.store.Sessions().Load(ctx, f.roomID)
	assert.Error(t, err)
}

func TestSessionService_ConcurrentMutationsStayConsistent(t *testing.T) {
	f := newFixture(t, service.SessionConfig{MaxQueueSize: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.sessions.AddToQueue(ctx, service.AddToQueueInput{RoomID: f.roomID, TrackID: "c", Provider: provider.CatalogName})
			if i%4 == 0 {
				_, _ = f.sessions.ShuffleQueue(ctx, f.roomID)
			}
		}(i)
	}
	wg.Wait()

	state, err := f.sessions.GetState(ctx, f.roomID)
	require.NoError(t, err)
	require.Len(t, state.Queue, 20)
	for i, item := range state.Queue {
		assert.Equal(t, i, item.Position)
	}
}
