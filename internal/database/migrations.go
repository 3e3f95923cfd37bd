package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/idbridge/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	return db.AutoMigrate(
		&models.VerificationSession{},
		&models.AuditEvent{},
	)
}
