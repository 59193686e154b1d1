// internal/retention/cleanup_test.go
package retention

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/models"
	"discord-archive-bot/internal/privacy"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

func newTestCleaner(t *testing.T, retentionDays, graceDays int) (*Cleaner, *database.DB, *privacy.Manager) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	pm := privacy.NewManager(db, zap.NewNop())
	return NewCleaner(db, pm, retentionDays, graceDays, zap.NewNop()), db, pm
}

func seed(t *testing.T, db *database.DB, messageID, authorID string, ts time.Time) {
	t.Helper()
	stored, err := db.InsertMessages([]*models.ArchivedMessage{{
		MessageID: messageID,
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		Content:   "some archived message content",
		AuthorID:  authorID,
		Timestamp: ts,
	}})
	if err != nil || stored != 1 {
		t.Fatalf("seeding %s: stored=%d err=%v", messageID, stored, err)
	}
}

func TestRunExpiresOldMessages(t *testing.T) {
	cleaner, db, _ := newTestCleaner(t, 30, 7)
	now := time.Now()

	seed(t, db, "old", "alice", now.AddDate(0, 0, -45))
	seed(t, db, "new", "alice", now.AddDate(0, 0, -5))

	result, err := cleaner.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.MessagesExpired != 1 {
		t.Errorf("expired = %d, want 1", result.MessagesExpired)
	}

	var count int64
	db.Model(&models.ArchivedMessage{}).Count(&count)
	if count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}

func TestRunRetentionDisabled(t *testing.T) {
	cleaner, db, _ := newTestCleaner(t, 0, 7)
	seed(t, db, "ancient", "alice", time.Now().AddDate(-1, 0, 0))

	result, err := cleaner.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.MessagesExpired != 0 {
		t.Errorf("expired = %d, want 0 with retention disabled", result.MessagesExpired)
	}

	var count int64
	db.Model(&models.ArchivedMessage{}).Count(&count)
	if count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}

func TestRunExecutesMaturedDeletions(t *testing.T) {
	cleaner, db, pm := newTestCleaner(t, 0, 7)
	now := time.Now()

	seed(t, db, "m1", "alice", now)
	if _, err := pm.RequestDeletion("alice"); err != nil {
		t.Fatal(err)
	}

	// Still inside the grace period.
	result, err := cleaner.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DeletionsExecuted != 0 {
		t.Errorf("executed = %d, want 0 inside grace period", result.DeletionsExecuted)
	}

	aged := now.AddDate(0, 0, -10)
	if err := db.Model(&models.PrivacySetting{}).
		Where("user_id = ?", "alice").
		Update("deletion_requested_at", aged).Error; err != nil {
		t.Fatal(err)
	}

	result, err = cleaner.Run()
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.DeletionsExecuted != 1 {
		t.Errorf("executed = %d, want 1 after maturity", result.DeletionsExecuted)
	}

	var count int64
	db.Model(&models.ArchivedMessage{}).Where("author_id = ?", "alice").Count(&count)
	if count != 0 {
		t.Errorf("alice rows = %d, want 0", count)
	}
}
