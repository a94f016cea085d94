// Package mocks holds testify mocks of the repository interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"listenparty/internal/domain"
)

// RoomRepository is a testify mock of repository.RoomRepository.
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	args := m.Called(ctx, id)
	var room *domain.Room
	if v := args.Get(0); v != nil {
		room = v.(*domain.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepository) FindAll(ctx context.Context) ([]domain.Room, error) {
	args := m.Called(ctx)
	var rooms []domain.Room
	if v := args.Get(0); v != nil {
		rooms = v.([]domain.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *RoomRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// MemberRepository is a testify mock of repository.MemberRepository.
type MemberRepository struct {
	mock.Mock
}

func (m *MemberRepository) FindByRoom(ctx context.Context, roomID string) ([]domain.RoomMember, error) {
	args := m.Called(ctx, roomID)
	var members []domain.RoomMember
	if v := args.Get(0); v != nil {
		members = v.([]domain.RoomMember)
	}
	return members, args.Error(1)
}

func (m *MemberRepository) Save(ctx context.Context, member *domain.RoomMember) error {
	return m.Called(ctx, member).Error(0)
}

func (m *MemberRepository) Delete(ctx context.Context, memberID string) error {
	return m.Called(ctx, memberID).Error(0)
}

// InviteRepository is a testify mock of repository.InviteRepository.
type InviteRepository struct {
	mock.Mock
}

func (m *InviteRepository) FindByRoom(ctx context.Context, roomID string) ([]domain.RoomInvite, error) {
	args := m.Called(ctx, roomID)
	var invites []domain.RoomInvite
	if v := args.Get(0); v != nil {
		invites = v.([]domain.RoomInvite)
	}
	return invites, args.Error(1)
}

func (m *InviteRepository) Create(ctx context.Context, invite *domain.RoomInvite) error {
	return m.Called(ctx, invite).Error(0)
}

func (m *InviteRepository) Update(ctx context.Context, invite *domain.RoomInvite) error {
	return m.Called(ctx, invite).Error(0)
}

func (m *InviteRepository) Delete(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func (m *InviteRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}
