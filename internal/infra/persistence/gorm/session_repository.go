package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"listenparty/internal/repository"
)

// SessionRecord is the row holding one room's encoded playback snapshot.
type SessionRecord struct {
	RoomID    string `gorm:"primaryKey;size:36"`
	Data      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table name independent of the struct name.
func (SessionRecord) TableName() string { return "sessions" }

// GormSessionRepository implements repository.SessionRepository with GORM.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a GormSessionRepository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// Save upserts the snapshot row of roomID.
func (r *GormSessionRepository) Save(ctx context.Context, roomID string, data []byte) error {
	record := SessionRecord{RoomID: roomID, Data: data, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("gorm: save session of room %s: %w", roomID, err)
	}
	return nil
}

func (r *GormSessionRepository) Load(ctx context.Context, roomID string) ([]byte, error) {
	var record SessionRecord
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: load session of room %s: %w", roomID, err)
	}
	return record.Data, nil
}

func (r *GormSessionRepository) Delete(ctx context.Context, roomID string) error {
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&SessionRecord{}).Error; err != nil {
		return fmt.Errorf("gorm: delete session of room %s: %w", roomID, err)
	}
	return nil
}
