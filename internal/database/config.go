// internal/database/config.go
package database

import (
	"errors"

	"discord-archive-bot/internal/models"

	"gorm.io/gorm"
)

// GetGuildConfig returns a guild's sync configuration, or an enabled default
// when the guild has never been configured.
func (db *DB) GetGuildConfig(guildID string) (*models.GuildSyncConfig, error) {
	var cfg models.GuildSyncConfig
	err := db.Where("guild_id = ?", guildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.GuildSyncConfig{GuildID: guildID, Enabled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveGuildConfig creates or updates a guild's sync configuration.
func (db *DB) SaveGuildConfig(cfg *models.GuildSyncConfig) error {
	var existing models.GuildSyncConfig
	err := db.Where("guild_id = ?", cfg.GuildID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(cfg).Error
	}
	if err != nil {
		return err
	}

	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	return db.Save(cfg).Error
}

// ListGuildConfigs returns every configured guild, for the scheduled sync loop.
func (db *DB) ListGuildConfigs() ([]models.GuildSyncConfig, error) {
	var configs []models.GuildSyncConfig
	err := db.Find(&configs).Error
	return configs, err
}
