// internal/privacy/manager_test.go
package privacy

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/models"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
)

func newTestManager(t *testing.T) (*Manager, *database.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	return NewManager(db, zap.NewNop()), db
}

func seedMessage(t *testing.T, db *database.DB, messageID, guildID, authorID, content string, ts time.Time) {
	t.Helper()
	vec := pgvector.NewVector([]float32{1, 2, 3})
	stored, err := db.InsertMessages([]*models.ArchivedMessage{{
		MessageID:        messageID,
		GuildID:          guildID,
		ChannelID:        "chan-1",
		Content:          content,
		CleanContent:     content,
		AuthorID:         authorID,
		Timestamp:        ts,
		Embedding:        &vec,
		EmbeddingModel:   "test-model",
		TrainingEligible: len(content) >= models.MinTrainingContentLength,
	}})
	if err != nil || stored != 1 {
		t.Fatalf("seeding %s: stored=%d err=%v", messageID, stored, err)
	}
}

func TestGetSettingsDefaultsAndPrecedence(t *testing.T) {
	m, _ := newTestManager(t)

	// No records at all: defaults.
	s, err := m.GetSettings("alice", "guild-1")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if s.OptOutHistory || s.OptOutTraining || s.RequestedDeletion {
		t.Fatalf("defaults not all false: %+v", s)
	}

	// Global record applies everywhere.
	if _, err := m.SetHistoryOptOut("alice", true, ""); err != nil {
		t.Fatalf("global opt-out: %v", err)
	}
	s, _ = m.GetSettings("alice", "guild-1")
	if !s.OptOutHistory {
		t.Error("global record should apply to guild-1")
	}

	// A guild-scoped record overrides the global one for that guild only.
	if _, err := m.SetHistoryOptOut("alice", false, "guild-1"); err != nil {
		t.Fatalf("guild opt-in: %v", err)
	}
	s, _ = m.GetSettings("alice", "guild-1")
	if s.OptOutHistory {
		t.Error("guild record should override global for guild-1")
	}
	s, _ = m.GetSettings("alice", "guild-2")
	if !s.OptOutHistory {
		t.Error("other guilds still follow the global record")
	}
}

func TestOptOutSetsPrecedence(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.SetHistoryOptOut("alice", true, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetHistoryOptOut("alice", false, "guild-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetHistoryOptOut("bob", true, "guild-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetTrainingOptOut("carol", true, ""); err != nil {
		t.Fatal(err)
	}

	sets, err := m.OptOutSets("guild-1")
	if err != nil {
		t.Fatalf("sets: %v", err)
	}

	if sets.History["alice"] {
		t.Error("alice opted back in for guild-1")
	}
	if !sets.History["bob"] {
		t.Error("bob is opted out in guild-1")
	}
	if sets.History["carol"] {
		t.Error("carol never opted out of history")
	}
	if !sets.Training["carol"] {
		t.Error("carol opted out of training globally")
	}

	// In another guild the global record wins for alice.
	sets, err = m.OptOutSets("guild-2")
	if err != nil {
		t.Fatalf("sets guild-2: %v", err)
	}
	if !sets.History["alice"] {
		t.Error("alice's global opt-out applies in guild-2")
	}
	if sets.History["bob"] {
		t.Error("bob's guild-1 record leaked into guild-2")
	}
}

func TestDeletionRequestNotMaskedByGuildRecord(t *testing.T) {
	m, _ := newTestManager(t)

	// A guild-scoped record exists before the deletion request, which only
	// writes the global record. The request must still win everywhere.
	if _, err := m.SetTrainingOptOut("alice", true, "guild-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestDeletion("alice"); err != nil {
		t.Fatal(err)
	}

	sets, err := m.OptOutSets("guild-1")
	if err != nil {
		t.Fatalf("sets: %v", err)
	}
	if !sets.History["alice"] {
		t.Error("deletion requester missing from history opt-out set; new messages would be archived in plaintext")
	}
	if !sets.Embeddings["alice"] {
		t.Error("deletion requester missing from embeddings opt-out set")
	}
	if !sets.Training["alice"] {
		t.Error("deletion requester missing from training opt-out set")
	}

	s, err := m.GetSettings("alice", "guild-1")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if !s.RequestedDeletion || s.DeletionRequestedAt == nil {
		t.Errorf("pending deletion request hidden by guild record: %+v", s)
	}
	if !s.OptOutHistory || !s.OptOutEmbeddings {
		t.Errorf("opt-outs masked while deletion is pending: %+v", s)
	}

	// Once the request is rescinded, normal precedence applies again.
	if _, err := m.CancelDeletion("alice"); err != nil {
		t.Fatal(err)
	}
	sets, err = m.OptOutSets("guild-1")
	if err != nil {
		t.Fatal(err)
	}
	if sets.History["alice"] {
		t.Error("guild record should govern history again after cancel")
	}
	if !sets.Training["alice"] {
		t.Error("guild training opt-out should survive the cancel")
	}
}

func TestRequestDeletionRedactsEverything(t *testing.T) {
	m, db := newTestManager(t)
	now := time.Now()

	seedMessage(t, db, "m1", "guild-1", "alice", "alice in guild one saying things", now)
	seedMessage(t, db, "m2", "guild-2", "alice", "alice in guild two saying more", now)
	seedMessage(t, db, "m3", "guild-1", "bob", "bob is entirely unaffected here", now)

	receipt, err := m.RequestDeletion("alice")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if receipt.MessagesRedacted != 2 {
		t.Errorf("redacted = %d, want 2", receipt.MessagesRedacted)
	}

	var rows []models.ArchivedMessage
	if err := db.Where("author_id = ?", "alice").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.Content != models.RedactionPlaceholder {
			t.Errorf("%s content not redacted: %q", row.MessageID, row.Content)
		}
		if row.Embedding != nil {
			t.Errorf("%s embedding survived the deletion request", row.MessageID)
		}
		if row.TrainingEligible {
			t.Errorf("%s still training eligible", row.MessageID)
		}
	}

	s, _ := m.GetSettings("alice", "")
	if !s.OptOutHistory || !s.OptOutTraining || !s.OptOutEmbeddings || !s.RequestedDeletion {
		t.Errorf("flags not all set: %+v", s)
	}

	// Repeating the request converges to the same state and keeps the clock.
	again, err := m.RequestDeletion("alice")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if !again.DeletionRequestedAt.Equal(receipt.DeletionRequestedAt) {
		t.Errorf("request time moved: %v -> %v", receipt.DeletionRequestedAt, again.DeletionRequestedAt)
	}

	var bob models.ArchivedMessage
	if err := db.Where("message_id = ?", "m3").First(&bob).Error; err != nil {
		t.Fatal(err)
	}
	if bob.Redacted {
		t.Error("bob's message was redacted")
	}
}

func TestSyncOptOutStatusRetroactive(t *testing.T) {
	m, db := newTestManager(t)
	now := time.Now()

	// Archived while alice was opted in.
	seedMessage(t, db, "m1", "guild-1", "alice", "archived before the opt-out", now)

	if _, err := m.SetHistoryOptOut("alice", true, "guild-1"); err != nil {
		t.Fatal(err)
	}

	updated, err := m.SyncOptOutStatus("guild-1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}

	var row models.ArchivedMessage
	if err := db.Where("message_id = ?", "m1").First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if !row.OptedOut || row.TrainingEligible {
		t.Errorf("flags wrong: optedOut=%t trainingEligible=%t", row.OptedOut, row.TrainingEligible)
	}
	// Opt-out alone does not redact.
	if row.Content != "archived before the opt-out" {
		t.Errorf("content changed: %q", row.Content)
	}

	// Second pass finds nothing new.
	updated, err = m.SyncOptOutStatus("guild-1")
	if err != nil {
		t.Fatal(err)
	}
	if updated != 0 {
		t.Errorf("second pass updated = %d, want 0", updated)
	}
}

func TestSyncOptOutStatusAllGuilds(t *testing.T) {
	m, db := newTestManager(t)
	now := time.Now()

	seedMessage(t, db, "m1", "guild-1", "alice", "alice talks in guild one", now)
	seedMessage(t, db, "m2", "guild-2", "alice", "alice talks in guild two", now)

	if _, err := m.SetHistoryOptOut("alice", true, ""); err != nil {
		t.Fatal(err)
	}

	updated, err := m.SyncOptOutStatus("")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2 (both guilds reconciled)", updated)
	}
}

func TestProcessDeletionRequestsGracePeriod(t *testing.T) {
	m, db := newTestManager(t)
	now := time.Now()

	seedMessage(t, db, "m1", "guild-1", "alice", "will be hard deleted later", now)
	seedMessage(t, db, "m2", "guild-1", "bob", "recent requester keeps rows", now)

	if _, err := m.RequestDeletion("alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RequestDeletion("bob"); err != nil {
		t.Fatal(err)
	}

	// Age alice's request past the grace period; bob's stays fresh.
	aged := now.AddDate(0, 0, -8)
	if err := db.Model(&models.PrivacySetting{}).
		Where("user_id = ? AND guild_id = ?", "alice", "").
		Update("deletion_requested_at", aged).Error; err != nil {
		t.Fatal(err)
	}

	processed, err := m.ProcessDeletionRequests(7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	var aliceRows, bobRows int64
	db.Model(&models.ArchivedMessage{}).Where("author_id = ?", "alice").Count(&aliceRows)
	db.Model(&models.ArchivedMessage{}).Where("author_id = ?", "bob").Count(&bobRows)
	if aliceRows != 0 {
		t.Errorf("alice rows = %d, want 0 (hard deleted)", aliceRows)
	}
	if bobRows != 1 {
		t.Errorf("bob rows = %d, want 1 (inside grace period)", bobRows)
	}

	// The matured request is closed; opt-outs stay in force.
	s, _ := m.GetSettings("alice", "")
	if s.RequestedDeletion {
		t.Error("request still open after processing")
	}
	if !s.OptOutHistory {
		t.Error("opt-out flags must survive processing")
	}

	// Running again is a no-op.
	processed, err = m.ProcessDeletionRequests(7)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Errorf("second pass processed = %d, want 0", processed)
	}
}

func TestCancelDeletion(t *testing.T) {
	m, db := newTestManager(t)
	seedMessage(t, db, "m1", "guild-1", "alice", "already redacted, stays so", time.Now())

	cancelled, err := m.CancelDeletion("alice")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled {
		t.Error("nothing to cancel yet")
	}

	if _, err := m.RequestDeletion("alice"); err != nil {
		t.Fatal(err)
	}
	cancelled, err = m.CancelDeletion("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled {
		t.Error("pending request should cancel")
	}

	s, _ := m.GetSettings("alice", "")
	if s.RequestedDeletion || s.DeletionRequestedAt != nil {
		t.Errorf("request not cleared: %+v", s)
	}

	// Redaction is not reversible.
	var row models.ArchivedMessage
	if err := db.Where("message_id = ?", "m1").First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Content != models.RedactionPlaceholder {
		t.Errorf("content restored after cancel: %q", row.Content)
	}

	processed, err := m.ProcessDeletionRequests(7)
	if err != nil {
		t.Fatal(err)
	}
	if processed != 0 {
		t.Errorf("cancelled request was processed: %d", processed)
	}
}
