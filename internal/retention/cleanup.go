// internal/retention/cleanup.go
package retention

import (
	"time"

	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/privacy"

	"go.uber.org/zap"
)

// Cleaner enforces time-based archive expiry and matures pending deletion
// requests into hard deletes. It runs independently of ingestion.
type Cleaner struct {
	db            *database.DB
	privacy       *privacy.Manager
	log           *zap.Logger
	retentionDays int
	graceDays     int
}

// NewCleaner builds a cleaner. retentionDays <= 0 disables age-based expiry;
// graceDays <= 0 falls back to the default deletion grace period.
func NewCleaner(db *database.DB, pm *privacy.Manager, retentionDays, graceDays int, log *zap.Logger) *Cleaner {
	return &Cleaner{
		db:            db,
		privacy:       pm,
		log:           log,
		retentionDays: retentionDays,
		graceDays:     graceDays,
	}
}

// CleanupResult summarizes one cleanup pass.
type CleanupResult struct {
	MessagesExpired   int64
	DeletionsExecuted int
}

// Run performs one cleanup pass: expire messages past the retention window,
// then execute matured deletion requests. A deletion failure is fatal; expiry
// alone failing is too, since silently keeping expired data defeats retention.
func (c *Cleaner) Run() (*CleanupResult, error) {
	result := &CleanupResult{}

	if c.retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -c.retentionDays)
		expired, err := c.db.DeleteMessagesBefore(cutoff)
		if err != nil {
			return result, err
		}
		result.MessagesExpired = expired
	}

	processed, err := c.privacy.ProcessDeletionRequests(c.graceDays)
	result.DeletionsExecuted = processed
	if err != nil {
		return result, err
	}

	if result.MessagesExpired > 0 || result.DeletionsExecuted > 0 {
		c.log.Info("cleanup pass finished",
			zap.Int64("messages_expired", result.MessagesExpired),
			zap.Int("deletions_executed", result.DeletionsExecuted))
	}
	return result, nil
}
