// internal/database/db.go
package database

import (
	"fmt"

	"discord-archive-bot/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type DB struct {
	*gorm.DB
}

func NewDB(host, user, password, dbname string, port int) (*DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		host, user, password, dbname, port)

	return Open(postgres.Open(dsn))
}

// Open connects through any GORM dialector and runs migrations. Tests use this
// with an in-memory sqlite dialector.
func Open(dialector gorm.Dialector) (*DB, error) {
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Enable pgvector extension
	if gormDB.Dialector.Name() == "postgres" {
		if err := gormDB.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return nil, err
		}
	}

	// Auto migrate
	if err := gormDB.AutoMigrate(
		&models.ArchivedMessage{},
		&models.PrivacySetting{},
		&models.SyncCheckpoint{},
		&models.GuildSyncConfig{},
	); err != nil {
		return nil, err
	}

	return &DB{gormDB}, nil
}
