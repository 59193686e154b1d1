// internal/models/models.go
package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// RedactionPlaceholder replaces message content when a user requests deletion.
const RedactionPlaceholder = "[message removed by user request]"

// MinTrainingContentLength is the minimum content length for a message to be
// usable by downstream training/retrieval consumers.
const MinTrainingContentLength = 10

// ScopeChannelHistory is the checkpoint scope for guild channel-history sync.
const ScopeChannelHistory = "channel_history"

// ArchivedMessage is one Discord message in the archive, keyed by MessageID.
// Inserts are insert-if-absent; an existing row's content is never overwritten.
type ArchivedMessage struct {
	ID                  uint     `gorm:"primaryKey"`
	MessageID           string   `gorm:"uniqueIndex;not null"`
	GuildID             string   `gorm:"index;not null"`
	ChannelID           string   `gorm:"index;not null"`
	Content             string   `gorm:"type:text"`
	CleanContent        string   `gorm:"type:text"`
	Attachments         []string `gorm:"serializer:json"`
	EmbedCount          int
	ReferencedMessageID string

	AuthorID          string `gorm:"index;not null"`
	AuthorDisplayName string
	Timestamp         time.Time `gorm:"index;not null"`
	EditedTimestamp   *time.Time

	Embedding        *pgvector.Vector `gorm:"type:vector(1536)"` // OpenAI embedding size
	EmbeddingModel   string
	OptedOut         bool `gorm:"default:false"`
	Redacted         bool `gorm:"default:false"`
	TrainingEligible bool `gorm:"default:false"`

	IngestedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time
}

// PrivacySetting holds one user's privacy preferences. GuildID is empty for the
// global record; a guild-scoped record overrides the global one for that guild.
// No record at all means nothing is opted out.
type PrivacySetting struct {
	ID      uint   `gorm:"primaryKey"`
	UserID  string `gorm:"uniqueIndex:idx_privacy_user_guild;not null"`
	GuildID string `gorm:"uniqueIndex:idx_privacy_user_guild"`

	OptOutHistory    bool `gorm:"default:false"`
	OptOutTraining   bool `gorm:"default:false"`
	OptOutEmbeddings bool `gorm:"default:false"`

	RequestedDeletion   bool `gorm:"default:false"`
	DeletionRequestedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncCheckpoint records the last successful sync time for one scope. LastSync
// only ever moves forward; a failed run must leave it untouched.
type SyncCheckpoint struct {
	ID        uint      `gorm:"primaryKey"`
	ScopeType string    `gorm:"uniqueIndex:idx_checkpoint_scope;not null"`
	GuildID   string    `gorm:"uniqueIndex:idx_checkpoint_scope;not null"`
	LastSync  time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

// GuildSyncConfig is the per-guild sync configuration. A nil IncludeChannels
// means every channel is eligible; a non-nil list restricts sync to that set.
type GuildSyncConfig struct {
	ID                 uint     `gorm:"primaryKey"`
	GuildID            string   `gorm:"uniqueIndex;not null"`
	Enabled            bool
	ExcludeChannels    []string `gorm:"serializer:json"`
	IncludeChannels    []string `gorm:"serializer:json"`
	GenerateEmbeddings bool     `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
