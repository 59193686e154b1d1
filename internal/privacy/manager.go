// internal/privacy/manager.go
package privacy

import (
	"errors"
	"fmt"
	"time"

	"discord-archive-bot/internal/archive"
	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultGraceDays is the delay between a deletion request and its
// irreversible execution.
const DefaultGraceDays = 7

// Manager owns privacy settings and the archive's privacy mutations:
// redaction, retroactive opt-out flagging, and hard deletion. Errors here are
// correctness violations and always propagate to the caller.
type Manager struct {
	db  *database.DB
	log *zap.Logger
}

func NewManager(db *database.DB, log *zap.Logger) *Manager {
	return &Manager{db: db, log: log}
}

// DeletionReceipt reports the outcome of a deletion request.
type DeletionReceipt struct {
	DeletionRequestedAt time.Time
	MessagesRedacted    int64
}

// GetSettings resolves a user's effective privacy settings. A guild-scoped
// record takes precedence over the global one; no record means defaults.
func (m *Manager) GetSettings(userID, guildID string) (*models.PrivacySetting, error) {
	var records []models.PrivacySetting
	err := m.db.Where("user_id = ?", userID).
		Where("guild_id IN ?", []string{"", guildID}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	resolved := &models.PrivacySetting{UserID: userID, GuildID: guildID}
	for _, r := range records {
		if r.GuildID == "" {
			*resolved = r
			resolved.GuildID = guildID
			break
		}
	}
	for _, r := range records {
		if guildID != "" && r.GuildID == guildID {
			*resolved = r
			break
		}
	}

	// A pending deletion request lives on the global record and cannot be
	// masked by a guild-scoped record: while it is open the user is opted out
	// of everything, everywhere.
	for _, r := range records {
		if r.GuildID == "" && r.RequestedDeletion {
			resolved.RequestedDeletion = true
			resolved.DeletionRequestedAt = r.DeletionRequestedAt
			resolved.OptOutHistory = true
			resolved.OptOutTraining = true
			resolved.OptOutEmbeddings = true
		}
	}
	return resolved, nil
}

// SetHistoryOptOut sets whether the user's messages may be archived with real
// content. An empty guildID writes the global record.
func (m *Manager) SetHistoryOptOut(userID string, optOut bool, guildID string) (*models.PrivacySetting, error) {
	return m.upsertSetting(userID, guildID, func(s *models.PrivacySetting) {
		s.OptOutHistory = optOut
	})
}

// SetTrainingOptOut sets whether the user's archived messages may be exported
// for downstream training.
func (m *Manager) SetTrainingOptOut(userID string, optOut bool, guildID string) (*models.PrivacySetting, error) {
	return m.upsertSetting(userID, guildID, func(s *models.PrivacySetting) {
		s.OptOutTraining = optOut
	})
}

// SetEmbeddingsOptOut sets whether the user's messages may be sent to the
// embedding service.
func (m *Manager) SetEmbeddingsOptOut(userID string, optOut bool, guildID string) (*models.PrivacySetting, error) {
	return m.upsertSetting(userID, guildID, func(s *models.PrivacySetting) {
		s.OptOutEmbeddings = optOut
	})
}

// upsertSetting creates the (user, guild) record lazily on first write.
func (m *Manager) upsertSetting(userID, guildID string, mutate func(*models.PrivacySetting)) (*models.PrivacySetting, error) {
	var setting models.PrivacySetting
	err := m.db.Where("user_id = ? AND guild_id = ?", userID, guildID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting = models.PrivacySetting{UserID: userID, GuildID: guildID}
		mutate(&setting)
		if err := m.db.Create(&setting).Error; err != nil {
			return nil, err
		}
		return &setting, nil
	}
	if err != nil {
		return nil, err
	}

	mutate(&setting)
	if err := m.db.Save(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

// RequestDeletion marks the user for time-delayed hard deletion and
// synchronously redacts every archived message they authored, across all
// guilds. No plaintext or vector survives past this call. Repeating the call
// converges to the same state and keeps the original request time.
func (m *Manager) RequestDeletion(userID string) (*DeletionReceipt, error) {
	now := time.Now()
	setting, err := m.upsertSetting(userID, "", func(s *models.PrivacySetting) {
		s.OptOutHistory = true
		s.OptOutTraining = true
		s.OptOutEmbeddings = true
		s.RequestedDeletion = true
		if s.DeletionRequestedAt == nil {
			s.DeletionRequestedAt = &now
		}
	})
	if err != nil {
		return nil, fmt.Errorf("recording deletion request: %w", err)
	}

	redacted, err := m.db.RedactAuthorMessages(userID)
	if err != nil {
		return nil, fmt.Errorf("redacting messages for %s: %w", userID, err)
	}

	m.log.Info("deletion requested",
		zap.String("user_id", userID),
		zap.Int64("messages_redacted", redacted))

	return &DeletionReceipt{
		DeletionRequestedAt: *setting.DeletionRequestedAt,
		MessagesRedacted:    redacted,
	}, nil
}

// CancelDeletion rescinds a pending deletion request before it matures.
// Already-redacted content stays redacted; redaction is not reversible.
func (m *Manager) CancelDeletion(userID string) (bool, error) {
	var setting models.PrivacySetting
	err := m.db.Where("user_id = ? AND guild_id = ?", userID, "").First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !setting.RequestedDeletion {
		return false, nil
	}

	setting.RequestedDeletion = false
	setting.DeletionRequestedAt = nil
	if err := m.db.Save(&setting).Error; err != nil {
		return false, err
	}
	return true, nil
}

// OptOutSets computes the effective opted-out user sets for a guild, with
// guild-scoped records overriding global ones. It implements
// archive.OptOutDirectory for ingest-time filtering.
func (m *Manager) OptOutSets(guildID string) (*archive.OptOutSets, error) {
	var records []models.PrivacySetting
	err := m.db.Where("guild_id IN ?", []string{"", guildID}).Find(&records).Error
	if err != nil {
		return nil, err
	}

	effective := make(map[string]models.PrivacySetting, len(records))
	// A global deletion request is un-maskable; a guild-scoped record must
	// never hide it.
	requested := make(map[string]bool)
	for _, r := range records {
		if r.GuildID == "" {
			effective[r.UserID] = r
			if r.RequestedDeletion {
				requested[r.UserID] = true
			}
		}
	}
	for _, r := range records {
		if guildID != "" && r.GuildID == guildID {
			effective[r.UserID] = r
		}
	}

	sets := &archive.OptOutSets{
		History:    make(map[string]bool),
		Training:   make(map[string]bool),
		Embeddings: make(map[string]bool),
	}
	for userID, s := range effective {
		deletion := s.RequestedDeletion || requested[userID]
		if s.OptOutHistory || deletion {
			sets.History[userID] = true
		}
		if s.OptOutTraining || deletion {
			sets.Training[userID] = true
		}
		if s.OptOutEmbeddings || deletion {
			sets.Embeddings[userID] = true
		}
	}
	return sets, nil
}

// SyncOptOutStatus reconciles settings changed after ingestion with records
// already archived: any message by a currently opted-out user that is not yet
// flagged gets opted_out=true and training_eligible=false. Content is left in
// place; only a deletion request redacts. An empty guildID reconciles every
// guild present in the archive.
func (m *Manager) SyncOptOutStatus(guildID string) (int64, error) {
	guilds := []string{guildID}
	if guildID == "" {
		guilds = nil
		if err := m.db.Model(&models.ArchivedMessage{}).
			Distinct("guild_id").Pluck("guild_id", &guilds).Error; err != nil {
			return 0, err
		}
	}

	var total int64
	for _, g := range guilds {
		sets, err := m.OptOutSets(g)
		if err != nil {
			return total, err
		}

		users := make([]string, 0, len(sets.History))
		for userID := range sets.History {
			users = append(users, userID)
		}

		updated, err := m.db.MarkMessagesOptedOut(g, users)
		if err != nil {
			return total, fmt.Errorf("flagging opted-out messages in guild %s: %w", g, err)
		}
		total += updated
	}

	if total > 0 {
		m.log.Info("opt-out status synced", zap.String("guild_id", guildID), zap.Int64("updated", total))
	}
	return total, nil
}

// ProcessDeletionRequests hard-deletes the archive of every user whose
// deletion request is older than the grace period. The request flag is cleared
// afterwards; the opt-out flags stay, so the user is never re-archived in
// plaintext. Intended for a periodic job.
func (m *Manager) ProcessDeletionRequests(graceDays int) (int, error) {
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}
	threshold := time.Now().AddDate(0, 0, -graceDays)

	var matured []models.PrivacySetting
	err := m.db.Where("requested_deletion = ?", true).
		Where("deletion_requested_at <= ?", threshold).
		Find(&matured).Error
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, setting := range matured {
		deleted, err := m.db.DeleteAuthorMessages(setting.UserID)
		if err != nil {
			return processed, fmt.Errorf("hard-deleting messages for %s: %w", setting.UserID, err)
		}

		setting.RequestedDeletion = false
		setting.DeletionRequestedAt = nil
		if err := m.db.Save(&setting).Error; err != nil {
			return processed, fmt.Errorf("closing deletion request for %s: %w", setting.UserID, err)
		}

		m.log.Info("deletion request executed",
			zap.String("user_id", setting.UserID),
			zap.Int64("messages_deleted", deleted))
		processed++
	}

	return processed, nil
}
