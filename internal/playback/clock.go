// Package playback implements the drift-corrected playback clock of a room.
//
// The clock never advances a counter. It stores an anchor position and the
// time the anchor was taken, and derives the live position on every read.
package playback

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"listenparty/internal/domain"
)

// State is the coarse state of the clock.
type State int

const (
	StateEmpty State = iota
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "empty"
	}
}

// Reading is a consistent sample of the clock taken at At.
type Reading struct {
	Track    *domain.Track
	Position float64
	Playing  bool
	Stream   domain.StreamInfo
	At       time.Time
}

// Clock is safe for concurrent use, but callers that need a mutation to
// apply atomically with a queue edit must hold the room session lock.
type Clock struct {
	mu    sync.Mutex
	clock clock.Clock

	track    *domain.Track
	stream   domain.StreamInfo
	anchor   float64 // position in seconds at anchorAt
	anchorAt time.Time
	playing  bool
}

// New returns an empty clock reading time from c. A nil c uses the wall clock.
func New(c clock.Clock) *Clock {
	if c == nil {
		c = clock.New()
	}
	return &Clock{clock: c, anchorAt: c.Now()}
}

// State returns the current state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Clock) stateLocked() State {
	switch {
	case c.track == nil:
		return StateEmpty
	case c.playing:
		return StatePlaying
	default:
		return StatePaused
	}
}

// Position returns the live position without moving the anchor.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.livePosition(c.clock.Now())
}

func (c *Clock) livePosition(now time.Time) float64 {
	if c.track == nil {
		return 0
	}
	pos := c.anchor
	if c.playing {
		pos += now.Sub(c.anchorAt).Seconds()
	}
	return clamp(pos, c.track.DurationSeconds)
}

// Snapshot computes the live position, stores it as the new anchor and
// returns it, so every later read is consistent with one "now".
func (c *Clock) Snapshot() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Clock) snapshotLocked() Reading {
	now := c.clock.Now()
	c.anchor = c.livePosition(now)
	c.anchorAt = now
	r := Reading{
		Position: c.anchor,
		Playing:  c.playing,
		Stream:   c.stream,
		At:       now,
	}
	if c.track != nil {
		t := *c.track
		r.Track = &t
	}
	return r
}

// Start loads track with an already resolved stream and plays it from 0.
func (c *Clock) Start(track domain.Track, stream domain.StreamInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := track
	c.track = &t
	c.stream = stream
	c.anchor = 0
	c.anchorAt = c.clock.Now()
	c.playing = true
}

// Pause freezes the position. Pausing an empty clock does nothing.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotLocked()
	c.playing = false
}

// Resume continues from the anchor.
func (c *Clock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.track == nil {
		return domain.ErrNoTrackToResume
	}
	if c.playing {
		return nil
	}
	c.anchorAt = c.clock.Now()
	c.playing = true
	return nil
}

// SeekTo moves the position to pos seconds, keeping the play state.
func (c *Clock) SeekTo(pos float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.track == nil {
		return domain.ErrNoTrackPlaying
	}
	if math.IsNaN(pos) || pos < 0 || pos > c.track.DurationSeconds {
		return fmt.Errorf("%w: %.2fs outside [0, %.2f]", domain.ErrInvalidSeekPosition, pos, c.track.DurationSeconds)
	}
	c.anchor = pos
	c.anchorAt = c.clock.Now()
	return nil
}

// SeekByPercentage seeks to pct percent of the current track.
func (c *Clock) SeekByPercentage(pct float64) error {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %.2f%% outside [0, 100]", domain.ErrInvalidSeekPosition, pct)
	}
	c.mu.Lock()
	if c.track == nil {
		c.mu.Unlock()
		return domain.ErrNoTrackPlaying
	}
	target := c.track.DurationSeconds * pct / 100
	c.mu.Unlock()
	return c.SeekTo(target)
}

// SetStream replaces the stream of the loaded track, keeping position and
// play state.
func (c *Clock) SetStream(stream domain.StreamInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
}

// Stop forces the clock to paused at its live position.
func (c *Clock) Stop() {
	c.Pause()
}

// Restore loads a persisted position. Restored clocks are always paused.
func (c *Clock) Restore(track *domain.Track, position float64, stream domain.StreamInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.playing = false
	c.anchorAt = c.clock.Now()
	if track == nil {
		c.track = nil
		c.stream = domain.StreamInfo{}
		c.anchor = 0
		return
	}
	t := *track
	c.track = &t
	c.stream = stream
	c.anchor = clamp(position, t.DurationSeconds)
}

// Remaining returns how long until the loaded track ends. The second
// result is false unless the clock is playing.
func (c *Clock) Remaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.track == nil || !c.playing {
		return 0, false
	}
	left := c.track.DurationSeconds - c.livePosition(c.clock.Now())
	if left < 0 {
		left = 0
	}
	return time.Duration(left * float64(time.Second)), true
}

func clamp(pos, duration float64) float64 {
	if pos < 0 {
		return 0
	}
	if duration >= 0 && pos > duration {
		return duration
	}
	return pos
}
