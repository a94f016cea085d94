// Package memory implements every storage port in process memory. It backs
// STORAGE_DRIVER=memory and SESSION_STORE=memory and is handy in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"listenparty/internal/domain"
	"listenparty/internal/repository"
)

// Store keeps rooms, members, invites and session snapshots in maps.
// Store itself is the RoomRepository and RateLimiter; the other ports are
// views returned by Members, Invites and Sessions since their method sets
// overlap.
type Store struct {
	mu       sync.RWMutex
	rooms    map[string]domain.Room
	members  map[string]domain.RoomMember
	invites  map[string]domain.RoomInvite
	sessions map[string][]byte
	counters map[string]counter
}

type counter struct {
	n       int
	resetAt time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]domain.Room),
		members:  make(map[string]domain.RoomMember),
		invites:  make(map[string]domain.RoomInvite),
		sessions: make(map[string][]byte),
		counters: make(map[string]counter),
	}
}

func (s *Store) FindByID(_ context.Context, id string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return &room, nil
}

func (s *Store) FindAll(context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Save(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	room.UpdatedAt = time.Now().UTC()
	s.rooms[room.ID] = *room
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	for mid, m := range s.members {
		if m.RoomID == id {
			delete(s.members, mid)
		}
	}
	for code, inv := range s.invites {
		if inv.RoomID == id {
			delete(s.invites, code)
		}
	}
	return nil
}

// Members returns the member repository view of s.
func (s *Store) Members() repository.MemberRepository { return memberView{s} }

// Invites returns the invite repository view of s.
func (s *Store) Invites() repository.InviteRepository { return inviteView{s} }

// Sessions returns the session repository view of s.
func (s *Store) Sessions() repository.SessionRepository { return sessionView{s} }

type memberView struct{ s *Store }

func (v memberView) FindByRoom(_ context.Context, roomID string) ([]domain.RoomMember, error) {
	v.s.mu.RLock()
	out := make([]domain.RoomMember, 0)
	for _, m := range v.s.members {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	v.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (v memberView) Save(_ context.Context, member *domain.RoomMember) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.members[member.ID] = *member
	return nil
}

func (v memberView) Delete(_ context.Context, memberID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.members, memberID)
	return nil
}

type inviteView struct{ s *Store }

func (v inviteView) FindByRoom(_ context.Context, roomID string) ([]domain.RoomInvite, error) {
	v.s.mu.RLock()
	out := make([]domain.RoomInvite, 0)
	for _, inv := range v.s.invites {
		if inv.RoomID == roomID {
			out = append(out, inv)
		}
	}
	v.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v inviteView) Create(_ context.Context, invite *domain.RoomInvite) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.invites[invite.Code]; ok {
		return repository.ErrDuplicateEntry
	}
	v.s.invites[invite.Code] = *invite
	return nil
}

func (v inviteView) Update(_ context.Context, invite *domain.RoomInvite) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	stored, ok := v.s.invites[invite.Code]
	if !ok {
		return repository.ErrInviteNotFound
	}
	stored.Uses = invite.Uses
	v.s.invites[invite.Code] = stored
	return nil
}

func (v inviteView) Delete(_ context.Context, code string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.invites, code)
	return nil
}

func (v inviteView) IsCodeExists(_ context.Context, code string) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	_, ok := v.s.invites[code]
	return ok, nil
}

type sessionView struct{ s *Store }

func (v sessionView) Save(_ context.Context, roomID string, data []byte) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.sessions[roomID] = append([]byte(nil), data...)
	return nil
}

func (v sessionView) Load(_ context.Context, roomID string) ([]byte, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	data, ok := v.s.sessions[roomID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return append([]byte(nil), data...), nil
}

func (v sessionView) Delete(_ context.Context, roomID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.sessions, roomID)
	return nil
}

// CheckRateLimit implements a fixed-window counter per key.
func (s *Store) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c := s.counters[key]
	if now.After(c.resetAt) {
		c = counter{resetAt: now.Add(window)}
	}
	c.n++
	s.counters[key] = c
	return c.n > limit, nil
}
