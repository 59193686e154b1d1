// internal/archive/ingest.go
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// fetchPageSize is the Discord API maximum per history call.
const fetchPageSize = 100

// DefaultMaxDays bounds a full-window fetch when no checkpoint exists.
const DefaultMaxDays = 7

// Channel is the narrow view of a Discord channel the pipeline needs: an id, a
// display name, a read-capability check, and cursor-based history pagination.
type Channel interface {
	ID() string
	Name() string
	CanReadHistory() bool
	MessagesBefore(ctx context.Context, beforeID string, limit int) ([]*discordgo.Message, error)
}

// ChannelLister enumerates a guild's message-bearing channels.
type ChannelLister interface {
	GuildChannels(guildID string) ([]Channel, error)
}

// Embedder generates one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// OptOutSets holds the effective opted-out user ids for one guild.
type OptOutSets struct {
	History    map[string]bool
	Training   map[string]bool
	Embeddings map[string]bool
}

// OptOutDirectory resolves the effective opt-out sets for a guild. The privacy
// manager implements this.
type OptOutDirectory interface {
	OptOutSets(guildID string) (*OptOutSets, error)
}

// IngestOptions controls one channel ingestion run.
type IngestOptions struct {
	MaxDays            int        // full-window bound, used when After is nil
	Limit              int        // optional cap on total fetched messages, 0 = unlimited
	GenerateEmbeddings bool       // best-effort enrichment of newly stored messages
	After              *time.Time // incremental mode: only messages newer than this
}

// ChannelSyncResult reports one channel's ingestion outcome. Err is set when
// the channel failed; counts reflect the progress made before the failure.
type ChannelSyncResult struct {
	ChannelID    string
	ChannelName  string
	TotalFetched int
	TotalStored  int
	TotalSkipped int
	CutoffDate   time.Time
	Err          error
}

type Ingestor struct {
	db       *database.DB
	embedder Embedder
	optOuts  OptOutDirectory
	log      *zap.Logger
}

func NewIngestor(db *database.DB, embedder Embedder, optOuts OptOutDirectory, log *zap.Logger) *Ingestor {
	return &Ingestor{
		db:       db,
		embedder: embedder,
		optOuts:  optOuts,
		log:      log,
	}
}

// IngestChannel fetches a channel's history newest-first in pages, applies
// privacy filtering, and bulk-inserts each page before fetching the next, so
// partial progress survives a later failure. It never touches sync
// checkpoints; repeating a window only re-inserts nothing.
func (ing *Ingestor) IngestChannel(ctx context.Context, guildID string, ch Channel, opts IngestOptions) (*ChannelSyncResult, error) {
	maxDays := opts.MaxDays
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}

	cutoff := time.Now().AddDate(0, 0, -maxDays)
	if opts.After != nil {
		cutoff = *opts.After
	}

	result := &ChannelSyncResult{
		ChannelID:   ch.ID(),
		ChannelName: ch.Name(),
		CutoffDate:  cutoff,
	}

	sets, err := ing.optOuts.OptOutSets(guildID)
	if err != nil {
		result.Err = fmt.Errorf("resolving opt-out sets: %w", err)
		return result, result.Err
	}

	beforeID := ""
	for {
		pageSize := fetchPageSize
		if opts.Limit > 0 && opts.Limit-result.TotalFetched < pageSize {
			pageSize = opts.Limit - result.TotalFetched
		}
		if pageSize <= 0 {
			break
		}

		page, err := ch.MessagesBefore(ctx, beforeID, pageSize)
		if err != nil {
			result.Err = fmt.Errorf("fetching messages before %q: %w", beforeID, err)
			return result, result.Err
		}
		if len(page) == 0 {
			break
		}

		result.TotalFetched += len(page)

		stored, skipped, err := ing.storeBatch(ctx, guildID, ch, page, cutoff, sets, opts.GenerateEmbeddings)
		result.TotalStored += stored
		result.TotalSkipped += skipped
		if err != nil {
			result.Err = err
			return result, result.Err
		}

		// Pages are newest-first, so the last message is the oldest.
		oldest := page[len(page)-1]
		if oldest.Timestamp.Before(cutoff) {
			break
		}
		beforeID = oldest.ID
	}

	ing.log.Info("channel ingested",
		zap.String("guild_id", guildID),
		zap.String("channel_id", ch.ID()),
		zap.Int("fetched", result.TotalFetched),
		zap.Int("stored", result.TotalStored),
		zap.Int("skipped", result.TotalSkipped))

	return result, nil
}

// storeBatch converts one fetched page into archive documents and submits them
// as an unordered insert-if-absent write. Embedding enrichment runs after the
// write and never fails the batch.
func (ing *Ingestor) storeBatch(ctx context.Context, guildID string, ch Channel, page []*discordgo.Message, cutoff time.Time, sets *OptOutSets, generateEmbeddings bool) (int, int, error) {
	docs := make([]*models.ArchivedMessage, 0, len(page))
	skipped := 0

	for _, m := range page {
		if m.Author == nil || m.Author.Bot {
			skipped++
			continue
		}
		if m.Content == "" && len(m.Attachments) == 0 {
			skipped++
			continue
		}
		if m.Timestamp.Before(cutoff) {
			skipped++
			continue
		}

		docs = append(docs, BuildDocument(guildID, ch.ID(), m, sets))
	}

	if len(docs) == 0 {
		return 0, skipped, nil
	}

	stored, err := ing.db.InsertMessages(docs)
	if err != nil {
		return 0, skipped, fmt.Errorf("storing batch in channel %s: %w", ch.ID(), err)
	}

	if generateEmbeddings && stored > 0 && ing.embedder != nil {
		ing.embedBatch(ctx, docs, sets)
	}

	return int(stored), skipped, nil
}

// BuildDocument maps a fetched Discord message onto an archive document,
// applying ingest-time privacy rules for the author.
func BuildDocument(guildID, channelID string, m *discordgo.Message, sets *OptOutSets) *models.ArchivedMessage {
	doc := &models.ArchivedMessage{
		MessageID:         m.ID,
		GuildID:           guildID,
		ChannelID:         channelID,
		Content:           m.Content,
		CleanContent:      displayContent(m),
		EmbedCount:        len(m.Embeds),
		AuthorID:          m.Author.ID,
		AuthorDisplayName: m.Author.Username,
		Timestamp:         m.Timestamp,
		EditedTimestamp:   m.EditedTimestamp,
	}

	for _, a := range m.Attachments {
		doc.Attachments = append(doc.Attachments, a.URL)
	}
	if m.MessageReference != nil {
		doc.ReferencedMessageID = m.MessageReference.MessageID
	}

	if sets.History[m.Author.ID] {
		doc.Content = models.RedactionPlaceholder
		doc.CleanContent = models.RedactionPlaceholder
		doc.OptedOut = true
		doc.Redacted = true
		doc.TrainingEligible = false
		return doc
	}

	doc.TrainingEligible = !sets.Training[m.Author.ID] &&
		len(doc.Content) >= models.MinTrainingContentLength
	return doc
}

// embedBatch is best-effort enrichment: one embedding request for the batch's
// eligible documents, failures logged and swallowed.
func (ing *Ingestor) embedBatch(ctx context.Context, docs []*models.ArchivedMessage, sets *OptOutSets) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.OptedOut || d.Redacted || sets.Embeddings[d.AuthorID] {
			continue
		}
		ids = append(ids, d.MessageID)
	}
	if len(ids) == 0 {
		return
	}

	pending, err := ing.db.MessagesNeedingEmbedding(ids)
	if err != nil {
		ing.log.Warn("embedding candidate lookup failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	texts := make([]string, len(pending))
	for i, msg := range pending {
		texts[i] = msg.Content
	}

	vectors, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		ing.log.Warn("embedding generation failed", zap.Int("batch", len(texts)), zap.Error(err))
		return
	}

	model := ing.embedder.Model()
	for i, msg := range pending {
		if err := ing.db.SetMessageEmbedding(msg.MessageID, pgvector.NewVector(vectors[i]), model); err != nil {
			ing.log.Warn("storing embedding failed", zap.String("message_id", msg.MessageID), zap.Error(err))
		}
	}
}

// displayContent replaces raw user mentions with readable names.
func displayContent(m *discordgo.Message) string {
	content := m.Content
	for _, u := range m.Mentions {
		content = strings.NewReplacer(
			"<@"+u.ID+">", "@"+u.Username,
			"<@!"+u.ID+">", "@"+u.Username,
		).Replace(content)
	}
	return content
}
