// Package queue holds the ordered, capacity-bounded track queue of a room.
package queue

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"listenparty/internal/domain"
)

// DefaultMaxSize is used when New is given a non-positive capacity.
const DefaultMaxSize = 100

// Queue is safe for concurrent use. Every read returns a copy.
type Queue struct {
	mu      sync.Mutex
	items   []domain.QueueItem
	maxSize int

	// currentID marks the item that is playing; it stays pinned at the
	// head while shuffling.
	currentID string

	shuffled bool
	original []domain.QueueItem // order before shuffle was engaged

	rng   *rand.Rand
	clock clock.Clock
}

// Option configures a Queue.
type Option func(*Queue)

// WithRand sets the randomness source used by Shuffle.
func WithRand(r *rand.Rand) Option {
	return func(q *Queue) { q.rng = r }
}

// WithClock sets the clock used to stamp AddedAt.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// New creates an empty queue holding at most maxSize items.
func New(maxSize int, opts ...Option) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	q := &Queue{
		items:   make([]domain.QueueItem, 0),
		maxSize: maxSize,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return q
}

// Enqueue appends track to the end of the queue.
func (q *Queue) Enqueue(track domain.Track, addedBy string) (domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return domain.QueueItem{}, fmt.Errorf("%w: limit is %d", domain.ErrQueueFull, q.maxSize)
	}
	item := domain.QueueItem{
		ID:       uuid.NewString(),
		Track:    track,
		AddedBy:  addedBy,
		AddedAt:  q.clock.Now().UTC(),
		Position: len(q.items),
	}
	q.items = append(q.items, item)
	if q.shuffled {
		q.original = append(q.original, item)
	}
	q.reindex()
	return item, nil
}

// Remove deletes the item at position.
func (q *Queue) Remove(position int) (domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 0 || position >= len(q.items) {
		return domain.QueueItem{}, fmt.Errorf("%w: %d (queue length %d)", domain.ErrInvalidPosition, position, len(q.items))
	}
	removed := q.items[position]
	q.items = append(q.items[:position], q.items[position+1:]...)
	q.forget(removed.ID)
	if removed.ID == q.currentID {
		q.currentID = ""
	}
	q.reindex()
	return removed, nil
}

// Reorder moves the item at from to to. Equal positions are a no-op.
func (q *Queue) Reorder(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if from < 0 || from >= n {
		return fmt.Errorf("%w: from %d (queue length %d)", domain.ErrInvalidPosition, from, n)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("%w: to %d (queue length %d)", domain.ErrInvalidPosition, to, n)
	}
	if from == to {
		return nil
	}
	item := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:to], append([]domain.QueueItem{item}, q.items[to:]...)...)
	q.reindex()
	return nil
}

// Clear empties the queue and forgets shuffle state and the playing marker.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make([]domain.QueueItem, 0)
	q.original = nil
	q.shuffled = false
	q.currentID = ""
}

// Shuffle randomizes the order with Fisher-Yates, keeping the currently
// playing item pinned at index 0.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffleLocked()
}

// ToggleShuffle restores the remembered order when shuffled and shuffles
// otherwise. It returns whether the queue is now shuffled.
func (q *Queue) ToggleShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuffled {
		q.items = q.original
		q.original = nil
		q.shuffled = false
		q.reindex()
		return false
	}
	q.shuffleLocked()
	return true
}

func (q *Queue) shuffleLocked() {
	if !q.shuffled {
		q.original = cloneItems(q.items)
		q.shuffled = true
	}

	rest := make([]domain.QueueItem, 0, len(q.items))
	var pinned *domain.QueueItem
	for i := range q.items {
		if q.currentID != "" && q.items[i].ID == q.currentID {
			p := q.items[i]
			pinned = &p
			continue
		}
		rest = append(rest, q.items[i])
	}
	for i := len(rest) - 1; i > 0; i-- {
		j := q.rng.Intn(i + 1)
		rest[i], rest[j] = rest[j], rest[i]
	}
	if pinned != nil {
		rest = append([]domain.QueueItem{*pinned}, rest...)
	}
	q.items = rest
	q.reindex()
}

// MarkCurrentlyPlaying pins the item with id; an empty id clears the marker.
func (q *Queue) MarkCurrentlyPlaying(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.currentID = id
}

// CurrentlyPlaying returns the id of the pinned item, if any.
func (q *Queue) CurrentlyPlaying() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentID
}

// PopFront removes and returns the head of the queue.
func (q *Queue) PopFront() (domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return domain.QueueItem{}, domain.ErrQueueEmpty
	}
	head := q.items[0]
	q.items = q.items[1:]
	q.forget(head.ID)
	if head.ID == q.currentID {
		q.currentID = ""
	}
	q.reindex()
	return head, nil
}

// Next returns the first item that is not the pinned one, i.e. what should
// play after the current track.
func (q *Queue) Next() (domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID != q.currentID {
			return item, true
		}
	}
	return domain.QueueItem{}, false
}

// DropCurrentlyPlaying removes the pinned item wherever it sits and clears
// the marker. It reports whether an item was removed.
func (q *Queue) DropCurrentlyPlaying() (domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.currentID == "" {
		return domain.QueueItem{}, false
	}
	id := q.currentID
	q.currentID = ""
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.forget(id)
			q.reindex()
			return item, true
		}
	}
	return domain.QueueItem{}, false
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek() (domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.QueueItem{}, false
	}
	return q.items[0], true
}

// Items returns a copy of the queue in order.
func (q *Queue) Items() []domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneItems(q.items)
}

// Tracks returns the queued tracks in order.
func (q *Queue) Tracks() []domain.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	tracks := make([]domain.Track, 0, len(q.items))
	for _, item := range q.items {
		tracks = append(tracks, item.Track)
	}
	return tracks
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Shuffled reports whether shuffle is engaged.
func (q *Queue) Shuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffled
}

// Restore replaces the queue content with items from a persisted snapshot.
// The pre-shuffle order of a restored shuffled queue is not known, so
// unshuffling it keeps the restored order.
func (q *Queue) Restore(items []domain.QueueItem, shuffled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(items) > q.maxSize {
		items = items[:q.maxSize]
	}
	q.items = cloneItems(items)
	q.currentID = ""
	q.shuffled = shuffled
	q.original = nil
	if shuffled {
		q.original = cloneItems(items)
	}
	q.reindex()
}

// forget drops id from the remembered pre-shuffle order.
func (q *Queue) forget(id string) {
	if !q.shuffled {
		return
	}
	for i := range q.original {
		if q.original[i].ID == id {
			q.original = append(q.original[:i], q.original[i+1:]...)
			return
		}
	}
}

func (q *Queue) reindex() {
	for i := range q.items {
		q.items[i].Position = i
	}
	for i := range q.original {
		q.original[i].Position = i
	}
}

func cloneItems(items []domain.QueueItem) []domain.QueueItem {
	out := make([]domain.QueueItem, len(items))
	copy(out, items)
	return out
}
