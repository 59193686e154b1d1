// internal/database/messages.go
package database

import (
	"strings"
	"time"

	"discord-archive-bot/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertMessages performs an unordered insert-if-absent bulk write keyed by
// message_id. The returned count is the number of rows actually inserted;
// already-archived messages are silently skipped.
func (db *DB) InsertMessages(msgs []*models.ArchivedMessage) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).CreateInBatches(msgs, 100)

	return result.RowsAffected, result.Error
}

// StoreMessage inserts a single message if its message_id is not yet archived.
func (db *DB) StoreMessage(msg *models.ArchivedMessage) (bool, error) {
	stored, err := db.InsertMessages([]*models.ArchivedMessage{msg})
	return stored > 0, err
}

// MessagesNeedingEmbedding returns messages from the given id set that still
// lack an embedding and are allowed to receive one.
func (db *DB) MessagesNeedingEmbedding(messageIDs []string) ([]models.ArchivedMessage, error) {
	var messages []models.ArchivedMessage
	err := db.Where("message_id IN ?", messageIDs).
		Where("embedding IS NULL").
		Where("opted_out = ? AND redacted = ?", false, false).
		Where("content <> ''").
		Find(&messages).Error
	return messages, err
}

// SetMessageEmbedding attaches a generated vector to one archived message.
func (db *DB) SetMessageEmbedding(messageID string, embedding pgvector.Vector, model string) error {
	return db.Model(&models.ArchivedMessage{}).
		Where("message_id = ?", messageID).
		Updates(map[string]interface{}{
			"embedding":       embedding,
			"embedding_model": model,
		}).Error
}

// RedactAuthorMessages replaces every message by the author, across all guilds,
// with the redaction placeholder and drops its embedding. Safe to repeat.
func (db *DB) RedactAuthorMessages(authorID string) (int64, error) {
	result := db.Model(&models.ArchivedMessage{}).
		Where("author_id = ?", authorID).
		Updates(map[string]interface{}{
			"content":           models.RedactionPlaceholder,
			"clean_content":     models.RedactionPlaceholder,
			"embedding":         nil,
			"embedding_model":   "",
			"redacted":          true,
			"opted_out":         true,
			"training_eligible": false,
		})
	return result.RowsAffected, result.Error
}

// MarkMessagesOptedOut flags archived messages from the given authors that are
// not yet marked opted out. Content is left in place; only a deletion request
// redacts. An empty guildID applies across all guilds.
func (db *DB) MarkMessagesOptedOut(guildID string, authorIDs []string) (int64, error) {
	if len(authorIDs) == 0 {
		return 0, nil
	}

	query := db.Model(&models.ArchivedMessage{}).
		Where("author_id IN ?", authorIDs).
		Where("opted_out = ?", false)
	if guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}

	result := query.Updates(map[string]interface{}{
		"opted_out":         true,
		"training_eligible": false,
	})
	return result.RowsAffected, result.Error
}

// DeleteAuthorMessages hard-deletes every archived message by the author.
// Deleting zero rows is not an error.
func (db *DB) DeleteAuthorMessages(authorID string) (int64, error) {
	result := db.Where("author_id = ?", authorID).Delete(&models.ArchivedMessage{})
	return result.RowsAffected, result.Error
}

// DeleteMessagesBefore removes messages older than the cutoff, for retention.
func (db *DB) DeleteMessagesBefore(cutoff time.Time) (int64, error) {
	result := db.Where("timestamp < ?", cutoff).Delete(&models.ArchivedMessage{})
	return result.RowsAffected, result.Error
}

// GetRecentMessages returns the newest messages for a guild, optionally scoped
// to one channel, newest first. Redacted placeholders are included so callers
// see an honest context window.
func (db *DB) GetRecentMessages(guildID, channelID string, limit int) ([]models.ArchivedMessage, error) {
	var messages []models.ArchivedMessage

	query := db.Where("guild_id = ?", guildID)
	if channelID != "" {
		query = query.Where("channel_id = ?", channelID)
	}

	err := query.Order("timestamp DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// SearchMessages does a case-insensitive substring search over archived
// content. Opted-out and redacted messages never match.
func (db *DB) SearchMessages(guildID, channelID, query string, limit int) ([]models.ArchivedMessage, error) {
	var messages []models.ArchivedMessage

	q := db.Where("guild_id = ?", guildID).
		Where("opted_out = ? AND redacted = ?", false, false).
		Where("LOWER(content) LIKE ?", "%"+strings.ToLower(query)+"%")
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}

	err := q.Order("timestamp DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// ActivityStats summarizes one channel's archived traffic inside a window.
type ActivityStats struct {
	MessageCount int64
	AuthorCount  int64
}

func (db *DB) ChannelActivity(channelID string, since time.Time) (*ActivityStats, error) {
	stats := &ActivityStats{}

	base := db.Model(&models.ArchivedMessage{}).
		Where("channel_id = ?", channelID).
		Where("timestamp >= ?", since)

	if err := base.Session(&gorm.Session{}).Count(&stats.MessageCount).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Distinct("author_id").Count(&stats.AuthorCount).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// TrainingEligibleMessages exports messages cleared for downstream training.
// An empty guildID exports across all guilds.
func (db *DB) TrainingEligibleMessages(guildID string, limit int) ([]models.ArchivedMessage, error) {
	var messages []models.ArchivedMessage

	query := db.Where("training_eligible = ?", true)
	if guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}

	err := query.Order("timestamp ASC").Limit(limit).Find(&messages).Error
	return messages, err
}
