package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"listenparty/internal/domain"
	"listenparty/internal/repository"
)

// GormMemberRepository implements repository.MemberRepository with GORM.
type GormMemberRepository struct {
	db *gorm.DB
}

// NewGormMemberRepository creates a GormMemberRepository.
func NewGormMemberRepository(db *gorm.DB) *GormMemberRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMemberRepository")
	}
	return &GormMemberRepository{db: db}
}

func (r *GormMemberRepository) FindByRoom(ctx context.Context, roomID string) ([]domain.RoomMember, error) {
	members := make([]domain.RoomMember, 0)
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find members of room %s: %w", roomID, err)
	}
	return members, nil
}

func (r *GormMemberRepository) Save(ctx context.Context, member *domain.RoomMember) error {
	if err := r.db.WithContext(ctx).Save(member).Error; err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save member %s of room %s: %w", member.ID, member.RoomID, err)
	}
	return nil
}

func (r *GormMemberRepository) Delete(ctx context.Context, memberID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", memberID).Delete(&domain.RoomMember{}).Error; err != nil {
		return fmt.Errorf("gorm: delete member %s: %w", memberID, err)
	}
	return nil
}
