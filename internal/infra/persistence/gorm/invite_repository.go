package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"listenparty/internal/domain"
	"listenparty/internal/repository"
)

// GormInviteRepository implements repository.InviteRepository with GORM.
type GormInviteRepository struct {
	db *gorm.DB
}

// NewGormInviteRepository creates a GormInviteRepository.
func NewGormInviteRepository(db *gorm.DB) *GormInviteRepository {
	if db == nil {
		panic("database connection cannot be nil for GormInviteRepository")
	}
	return &GormInviteRepository{db: db}
}

func (r *GormInviteRepository) FindByRoom(ctx context.Context, roomID string) ([]domain.RoomInvite, error) {
	invites := make([]domain.RoomInvite, 0)
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Find(&invites).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find invites of room %s: %w", roomID, err)
	}
	return invites, nil
}

func (r *GormInviteRepository) Create(ctx context.Context, invite *domain.RoomInvite) error {
	if err := r.db.WithContext(ctx).Create(invite).Error; err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create invite %s: %w", invite.Code, err)
	}
	return nil
}

func (r *GormInviteRepository) Update(ctx context.Context, invite *domain.RoomInvite) error {
	result := r.db.WithContext(ctx).
		Model(&domain.RoomInvite{}).
		Where("code = ?", invite.Code).
		Update("uses", invite.Uses)
	if result.Error != nil {
		return fmt.Errorf("gorm: update invite %s: %w", invite.Code, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrInviteNotFound
	}
	return nil
}

func (r *GormInviteRepository) Delete(ctx context.Context, code string) error {
	if err := r.db.WithContext(ctx).Where("code = ?", code).Delete(&domain.RoomInvite{}).Error; err != nil {
		return fmt.Errorf("gorm: delete invite %s: %w", code, err)
	}
	return nil
}

func (r *GormInviteRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RoomInvite{}).Where("code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count invites by code '%s': %w", code, err)
	}
	return count > 0, nil
}
