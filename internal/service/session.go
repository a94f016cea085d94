package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"listenparty/internal/domain"
	"listenparty/internal/hub"
	"listenparty/internal/provider"
	"listenparty/internal/repository"
	"listenparty/internal/session"
)

// SessionConfig 播放相关的限制参数。
type SessionConfig struct {
	MaxQueueSize int
	IdleTimeout  time.Duration
	Retry        provider.Policy
	SearchLimit  int

	// Rand 为队列洗牌提供随机源。为 nil 时每个房间使用按时间播种的随机源。
	Rand func() *rand.Rand
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = provider.DefaultPolicy
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 20
	}
	return c
}

var (
	errStaleTimer   = errors.New("end-of-track timer is stale")
	errHeadChanged  = errors.New("queue head changed while resolving")
	errTrackChanged = errors.New("current track changed")
)

// SessionService 是播放和队列修改的唯一入口。
// 每次修改都在房间会话锁内执行，之后把得到的快照持久化，
// 同步到 RoomService，并通过 Hub 广播。
type SessionService struct {
	rooms     *RoomService
	hub       *hub.Hub
	providers *provider.Registry
	snapshots repository.SessionRepository
	clock     clock.Clock
	cfg       SessionConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex                  // 保护 sessions
	sessions map[string]*session.Session // 常驻内存的房间会话
	creating singleflight.Group          // 同一房间并发创建会话时只创建一次
}

// NewSessionService 创建 SessionService。clk 可以为 nil。
func NewSessionService(
	rooms *RoomService,
	h *hub.Hub,
	providers *provider.Registry,
	snapshots repository.SessionRepository,
	cfg SessionConfig,
	clk clock.Clock,
) *SessionService {
	if rooms == nil {
		panic("RoomService cannot be nil for SessionService")
	}
	if h == nil {
		panic("Hub cannot be nil for SessionService")
	}
	if providers == nil {
		panic("provider Registry cannot be nil for SessionService")
	}
	if snapshots == nil {
		panic("SessionRepository cannot be nil for SessionService")
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		rooms:     rooms,
		hub:       h,
		providers: providers,
		snapshots: snapshots,
		clock:     clk,
		cfg:       cfg.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session.Session),
	}
}

// resolve 返回 roomID 的会话，第一次访问时创建并从快照恢复。
func (s *SessionService) resolve(ctx context.Context, roomID string) (*session.Session, error) {
	// 1. 房间必须存在
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	// 2. 已有会话直接返回
	if sess := s.lookup(roomID); sess != nil {
		return sess, nil
	}
	// 3. 创建会话，并发请求共享同一次创建
	v, err, _ := s.creating.Do(roomID, func() (interface{}, error) {
		// 可能在等待期间已被其他请求创建
		if sess := s.lookup(roomID); sess != nil {
			return sess, nil
		}
		opts := session.Options{
			MaxQueueSize: s.cfg.MaxQueueSize,
			Clock:        s.clock,
			OnTrackEnd:   s.onTrackEnd,
		}
		if s.cfg.Rand != nil {
			opts.Rand = s.cfg.Rand()
		}
		sess := session.New(s.ctx, roomID, session.NewStore(s.snapshots, roomID), opts)
		restored := sess.Restore(ctx) // 有快照时恢复为暂停状态

		s.mu.Lock()
		s.sessions[roomID] = sess
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{"room_id": roomID, "restored": restored}).Info("Room session created")
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// lookup 返回未关闭的会话
func (s *SessionService) lookup(roomID string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[roomID]
	if !ok || sess.Closed() {
		return nil
	}
	return sess
}

// mutate 把 fn 作为 roomID 会话的一次原子修改执行并发布结果。
// 如果会话在查找和加锁之间被回收，重新创建一次。
func (s *SessionService) mutate(ctx context.Context, roomID, operation string, fn func(tx *session.Tx) error) (domain.PlaybackState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": operation})
	for attempt := 0; ; attempt++ {
		sess, err := s.resolve(ctx, roomID)
		if err != nil {
			return domain.PlaybackState{}, err
		}
		state, err := sess.Do(fn)
		// 会话刚被回收，只重试一次
		if errors.Is(err, session.ErrClosed) && attempt == 0 {
			continue
		}
		if err != nil {
			logCtx.WithError(err).Warn("Playback mutation rejected")
			return domain.PlaybackState{}, err
		}
		s.publish(ctx, sess, state)
		logCtx.Debug("Playback mutation applied")
		return state, nil
	}
}

// publish 持久化 state，同步到房间列表，并广播给房间的所有连接。
func (s *SessionService) publish(ctx context.Context, sess *session.Session, state domain.PlaybackState) {
	sess.Persist(ctx, state)                          // 写快照
	s.rooms.UpdatePlaybackState(sess.RoomID(), state) // 房间列表中的正在播放
	s.hub.BroadcastState(sess.RoomID(), state)        // 推送给客户端
}

// provider 返回指定名称的音乐源，并包上配置的重试策略。
func (s *SessionService) provider(name string) (provider.MusicProvider, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}
	return provider.WithRetry(p, s.cfg.Retry), nil
}

// fetchTrack 获取曲目元数据并校验
func (s *SessionService) fetchTrack(ctx context.Context, providerName, trackID string) (domain.Track, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return domain.Track{}, err
	}
	track, err := p.GetTrack(ctx, trackID)
	if err != nil {
		return domain.Track{}, err
	}
	// 元数据不完整的曲目不能播放
	if !track.Valid() {
		return domain.Track{}, fmt.Errorf("%w: track %s has incomplete metadata", domain.ErrProvider, trackID)
	}
	if track.Provider == "" {
		track.Provider = p.Name()
	}
	return track, nil
}

// resolveStream 获取曲目的播放地址
func (s *SessionService) resolveStream(ctx context.Context, track domain.Track) (domain.StreamInfo, error) {
	p, err := s.provider(track.Provider)
	if err != nil {
		return domain.StreamInfo{}, err
	}
	return p.GetStreamURL(ctx, track.ID)
}

// GetState 返回房间当前的播放快照。
func (s *SessionService) GetState(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	sess, err := s.resolve(ctx, roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	return sess.State(), nil
}

// Subscribe 把 conn 注册到房间，并向它发送当前状态。
func (s *SessionService) Subscribe(ctx context.Context, roomID string, conn hub.Connection) error {
	sess, err := s.resolve(ctx, roomID)
	if err != nil {
		return err
	}
	sess.Touch()
	s.hub.AddConnection(roomID, conn)
	// 新连接先收到一份完整状态
	if err := s.hub.SendState(conn, sess.State()); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "connection_id": conn.ID()}).WithError(err).Warn("Failed to send initial state")
		s.hub.RemoveConnection(roomID, conn.ID())
		return err
	}
	return nil
}

// DeleteRoom 删除房间，关闭会话并断开所有连接。
func (s *SessionService) DeleteRoom(ctx context.Context, roomID, memberID string) error {
	if err := s.rooms.DeleteRoom(ctx, roomID, memberID); err != nil {
		return err
	}
	// 从内存移除会话
	s.mu.Lock()
	sess := s.sessions[roomID]
	delete(s.sessions, roomID)
	s.mu.Unlock()
	if sess != nil {
		sess.Close(ctx)
	}
	// 删除持久化的快照，没有快照不算错误
	if err := s.snapshots.Delete(ctx, roomID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to delete session snapshot")
	}
	s.hub.CloseRoom(roomID)
	return nil
}

// EvictIdle 回收没有连接且超过空闲时间没有活动的会话，返回回收数量。
func (s *SessionService) EvictIdle(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var idle []*session.Session
	for roomID, sess := range s.sessions {
		// 还有连接的房间不回收
		if s.hub.ConnectionCount(roomID) > 0 {
			continue
		}
		if now.Sub(sess.LastActivity()) < s.cfg.IdleTimeout {
			continue
		}
		idle = append(idle, sess)
		delete(s.sessions, roomID)
	}
	s.mu.Unlock()

	// 在锁外关闭，Close 会写最终快照
	for _, sess := range idle {
		sess.Close(ctx)
	}
	if len(idle) > 0 {
		logrus.WithField("evicted", len(idle)).Info("Evicted idle room sessions")
	}
	return len(idle)
}

// ActiveSessions 返回常驻内存的会话数量。
func (s *SessionService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown 关闭所有会话，并持久化最终快照。
func (s *SessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*session.Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close(ctx)
	}
	s.cancel() // 取消所有会话派生的 context
	logrus.WithField("sessions", len(all)).Info("Session service shut down")
}
