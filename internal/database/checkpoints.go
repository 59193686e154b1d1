// internal/database/checkpoints.go
package database

import (
	"errors"
	"time"

	"discord-archive-bot/internal/models"

	"gorm.io/gorm"
)

// GetLastSync returns the last successful sync time for a guild's channel
// history, or nil when the guild has never completed a sync.
func (db *DB) GetLastSync(guildID string) (*time.Time, error) {
	var cp models.SyncCheckpoint
	err := db.Where("scope_type = ? AND guild_id = ?", models.ScopeChannelHistory, guildID).
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp.LastSync, nil
}

// AdvanceLastSync moves a guild's checkpoint forward to t. A t at or behind the
// stored checkpoint is ignored, so the checkpoint stays monotonic.
func (db *DB) AdvanceLastSync(guildID string, t time.Time) error {
	var cp models.SyncCheckpoint
	err := db.Where("scope_type = ? AND guild_id = ?", models.ScopeChannelHistory, guildID).
		First(&cp).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&models.SyncCheckpoint{
			ScopeType: models.ScopeChannelHistory,
			GuildID:   guildID,
			LastSync:  t,
		}).Error
	}
	if err != nil {
		return err
	}

	if !t.After(cp.LastSync) {
		return nil
	}
	return db.Model(&cp).Update("last_sync", t).Error
}
