package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"listenparty/internal/domain"
	gormpersistence "listenparty/internal/infra/persistence/gorm"
)

// MigrateDB creates or updates every table the service uses.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	err := db.AutoMigrate(
		&domain.Room{},
		&domain.RoomMember{},
		&domain.RoomInvite{},
		&gormpersistence.SessionRecord{},
	)
	if err != nil {
		logrus.WithError(err).Error("Failed to auto-migrate tables")
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
