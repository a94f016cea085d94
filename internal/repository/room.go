package repository

import (
	"context"

	"listenparty/internal/domain"
)

// RoomRepository stores rooms.
type RoomRepository interface {
	// FindByID returns ErrRoomNotFound when no room has id.
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// FindAll returns every stored room, oldest first.
	FindAll(ctx context.Context) ([]domain.Room, error)

	// Save creates or updates room.
	Save(ctx context.Context, room *domain.Room) error

	// Delete removes the room together with its members and invites.
	Delete(ctx context.Context, id string) error
}

// MemberRepository stores room members.
type MemberRepository interface {
	// FindByRoom returns the members of a room ordered by JoinedAt.
	FindByRoom(ctx context.Context, roomID string) ([]domain.RoomMember, error)

	// Save creates or updates member.
	Save(ctx context.Context, member *domain.RoomMember) error

	// Delete removes a member. Deleting an unknown member is not an error.
	Delete(ctx context.Context, memberID string) error
}

// InviteRepository stores invite codes.
type InviteRepository interface {
	// FindByRoom returns every stored invite of a room, expired ones included.
	FindByRoom(ctx context.Context, roomID string) ([]domain.RoomInvite, error)

	// Create inserts invite, failing with ErrDuplicateEntry if the code is
	// already taken.
	Create(ctx context.Context, invite *domain.RoomInvite) error

	// Update stores the use counter of an existing invite.
	Update(ctx context.Context, invite *domain.RoomInvite) error

	// Delete removes an invite. Deleting an unknown code is not an error.
	Delete(ctx context.Context, code string) error

	// IsCodeExists reports whether code is taken by any room.
	IsCodeExists(ctx context.Context, code string) (bool, error)
}
