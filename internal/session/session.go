package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
	"listenparty/internal/playback"
	"listenparty/internal/queue"
)

// ErrClosed is returned by Do after the session has been torn down.
var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	MaxQueueSize int
	Clock        clock.Clock
	Rand         *rand.Rand

	// OnTrackEnd runs on its own goroutine when the playing track reaches
	// its end. gen identifies the timer that fired; it is stale if any
	// mutation happened since.
	OnTrackEnd func(s *Session, gen uint64)
}

// Tx is the view of a session given to a mutation running under its lock.
type Tx struct {
	Queue *queue.Queue
	Clock *playback.Clock

	// TimerGen is the generation of the currently armed end-of-track timer.
	TimerGen uint64
}

// Session is the in-memory bundle of one room: queue, playback clock and
// snapshot store, all guarded by mu.
type Session struct {
	roomID string
	store  *Store
	clk    clock.Clock
	onEnd  func(*Session, uint64)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	queue        *queue.Queue
	playback     *playback.Clock
	timer        *clock.Timer
	timerGen     uint64
	lastActivity time.Time
	closed       bool
}

// New creates the session of roomID. Its context is derived from parent and
// is cancelled by Close.
func New(parent context.Context, roomID string, store *Store, opts Options) *Session {
	if store == nil {
		panic("Store cannot be nil for Session")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	qopts := []queue.Option{queue.WithClock(clk)}
	if opts.Rand != nil {
		qopts = append(qopts, queue.WithRand(opts.Rand))
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		roomID:       roomID,
		store:        store,
		clk:          clk,
		onEnd:        opts.OnTrackEnd,
		ctx:          ctx,
		cancel:       cancel,
		queue:        queue.New(opts.MaxQueueSize, qopts...),
		playback:     playback.New(clk),
		lastActivity: clk.Now(),
	}
}

// RoomID returns the room this session belongs to.
func (s *Session) RoomID() string { return s.roomID }

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// Restore loads the persisted snapshot, if any. Playback comes back paused.
func (s *Session) Restore(ctx context.Context) bool {
	state := s.store.Restore(ctx)
	if state == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Restore(state.Queue, state.ShuffleEnabled)
	s.playback.Restore(state.CurrentTrack, state.PositionSeconds, domain.StreamInfo{
		URL:    state.StreamURL,
		Format: state.StreamFormat,
	})
	s.scheduleLocked()
	return true
}

// Do runs fn under the session lock and returns the snapshot taken right
// after it, before the lock is released. If fn fails nothing is snapshotted
// and fn must have left the state untouched.
func (s *Session) Do(fn func(tx *Tx) error) (domain.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.PlaybackState{}, ErrClosed
	}
	s.lastActivity = s.clk.Now()
	if err := fn(&Tx{Queue: s.queue, Clock: s.playback, TimerGen: s.timerGen}); err != nil {
		return domain.PlaybackState{}, err
	}
	s.scheduleLocked()
	return s.snapshotLocked(), nil
}

// View runs fn under the session lock without re-arming the timer or
// recording activity. fn must not mutate the queue or clock.
func (s *Session) View(fn func(tx *Tx)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	fn(&Tx{Queue: s.queue, Clock: s.playback, TimerGen: s.timerGen})
	return nil
}

// State returns a fresh snapshot without mutating anything.
func (s *Session) State() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Persist writes state through the session store.
func (s *Session) Persist(ctx context.Context, state domain.PlaybackState) {
	s.store.Save(ctx, state)
}

// Touch records activity without a mutation.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.clk.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last mutation or Touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close stops the end-of-track timer, cancels the session context and
// writes a final snapshot. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.cancel()
	s.store.Save(ctx, state)
	logrus.WithField("room_id", s.roomID).Info("Room session closed")
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) snapshotLocked() domain.PlaybackState {
	r := s.playback.Snapshot()
	return domain.PlaybackState{
		CurrentTrack:    r.Track,
		PositionSeconds: r.Position,
		IsPlaying:       r.Playing,
		Queue:           s.queue.Items(),
		ShuffleEnabled:  s.queue.Shuffled(),
		Timestamp:       r.At.UnixMilli(),
		StreamURL:       r.Stream.URL,
		StreamFormat:    r.Stream.Format,
	}
}

// scheduleLocked re-arms the end-of-track timer for the current clock state.
// Every call bumps the generation so callbacks of older timers are ignored.
func (s *Session) scheduleLocked() {
	s.stopTimerLocked()
	if s.onEnd == nil {
		return
	}
	left, playing := s.playback.Remaining()
	if !playing {
		return
	}
	gen := s.timerGen
	s.timer = s.clk.AfterFunc(left, func() { s.onEnd(s, gen) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}
