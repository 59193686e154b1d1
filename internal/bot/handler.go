// internal/bot/handler.go
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"discord-archive-bot/internal/archive"
	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/models"
	"discord-archive-bot/internal/privacy"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// BotHandler is the Discord-facing administrative surface: slash commands for
// sync, channel scoping, search, activity, config, and user privacy, plus live
// archiving of new messages through the same idempotent store the backfill
// uses.
type BotHandler struct {
	db       *database.DB
	coord    *archive.Coordinator
	privacy  *privacy.Manager
	channels *SessionChannels
	session  *discordgo.Session
	botID    string
	log      *zap.Logger
}

func NewBotHandler(db *database.DB, coord *archive.Coordinator, pm *privacy.Manager, channels *SessionChannels, log *zap.Logger) *BotHandler {
	return &BotHandler{
		db:       db,
		coord:    coord,
		privacy:  pm,
		channels: channels,
		log:      log,
	}
}

func (h *BotHandler) SetSession(s *discordgo.Session) {
	h.session = s
	user, err := s.User("@me")
	if err != nil {
		h.log.Error("getting bot user failed", zap.Error(err))
		return
	}
	h.botID = user.ID

	s.AddHandler(h.handleInteraction)
}

// RegisterCommands registers slash commands for the bot
func (h *BotHandler) RegisterCommands() error {
	manageGuild := int64(discordgo.PermissionManageGuild)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "sync",
			Description:              "Archive a channel's recent history",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to sync",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "How many days back to fetch (default 7)",
				},
			},
		},
		{
			Name:                     "exclude",
			Description:              "Exclude a channel from archiving",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to exclude",
					Required:    true,
				},
			},
		},
		{
			Name:                     "include",
			Description:              "Re-include a channel in archiving",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to include",
					Required:    true,
				},
			},
		},
		{
			Name:        "search",
			Description: "Search the message archive",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Text to search for",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Restrict to one channel",
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "limit",
					Description: "Maximum results (default 10)",
				},
			},
		},
		{
			Name:        "activity",
			Description: "Show archived activity for a channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to summarize",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Window in days (default 7)",
				},
			},
		},
		{
			Name:                     "config",
			Description:              "Show or change this server's archive settings",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Enable or disable scheduled sync",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "embeddings",
					Description: "Generate embeddings for archived messages",
				},
			},
		},
		{
			Name:        "privacy",
			Description: "Show or change your privacy settings for this server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "history",
					Description: "Opt out of message archiving",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "training",
					Description: "Opt out of training use",
				},
			},
		},
		{
			Name:        "forgetme",
			Description: "Request deletion of all your archived messages",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "cancel",
					Description: "Cancel a pending deletion request",
				},
			},
		},
	}

	for _, cmd := range commands {
		_, err := h.session.ApplicationCommandCreate(h.session.State.User.ID, "", cmd)
		if err != nil {
			return fmt.Errorf("error creating '%s' command: %v", cmd.Name, err)
		}
	}

	h.log.Info("slash commands registered", zap.Int("count", len(commands)))
	return nil
}

func (h *BotHandler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "sync":
		h.handleSync(s, i)
	case "exclude":
		h.handleExclude(s, i)
	case "include":
		h.handleInclude(s, i)
	case "search":
		h.handleSearch(s, i)
	case "activity":
		h.handleActivity(s, i)
	case "config":
		h.handleConfig(s, i)
	case "privacy":
		h.handlePrivacy(s, i)
	case "forgetme":
		h.handleForgetMe(s, i)
	}
}

// OnMessageCreate archives live messages as they arrive. Live capture and
// backfill share the insert-if-absent store, so both paths converge on one
// record per message.
func (h *BotHandler) OnMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == h.botID || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return
	}

	go h.storeMessage(m)
}

func (h *BotHandler) storeMessage(m *discordgo.MessageCreate) {
	cfg, err := h.db.GetGuildConfig(m.GuildID)
	if err != nil {
		h.log.Warn("loading guild config failed", zap.String("guild_id", m.GuildID), zap.Error(err))
		return
	}
	if !cfg.Enabled || !channelInScope(cfg, m.ChannelID) {
		return
	}

	sets, err := h.privacy.OptOutSets(m.GuildID)
	if err != nil {
		h.log.Warn("resolving opt-out sets failed", zap.String("guild_id", m.GuildID), zap.Error(err))
		return
	}

	doc := archive.BuildDocument(m.GuildID, m.ChannelID, m.Message, sets)
	if _, err := h.db.StoreMessage(doc); err != nil {
		h.log.Warn("storing live message failed", zap.String("message_id", m.ID), zap.Error(err))
	}
}

func (h *BotHandler) handleSync(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferReply(s, i, false); err != nil {
		h.log.Error("responding to interaction failed", zap.Error(err))
		return
	}

	opts := optionMap(i)
	channelID := opts["channel"].Value.(string)
	days := 0
	if o, ok := opts["days"]; ok {
		days = int(o.IntValue())
	}

	ch, err := h.channels.Channel(channelID)
	if err != nil {
		editReply(s, i, fmt.Sprintf("Could not look up that channel: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := h.coord.SyncChannel(ctx, i.GuildID, ch, days)
	if err != nil {
		fetched := 0
		if result != nil {
			fetched = result.TotalFetched
		}
		editReply(s, i, fmt.Sprintf("Sync failed after %d messages: %v", fetched, err))
		return
	}

	editReply(s, i, fmt.Sprintf("Synced <#%s>: %d fetched, %d stored, %d skipped (since %s).",
		result.ChannelID, result.TotalFetched, result.TotalStored, result.TotalSkipped,
		result.CutoffDate.Format("2006-01-02")))
}

func (h *BotHandler) handleExclude(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID := optionMap(i)["channel"].Value.(string)

	cfg, err := h.db.GetGuildConfig(i.GuildID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Could not load config: %v", err), false)
		return
	}

	cfg.IncludeChannels = removeID(cfg.IncludeChannels, channelID)
	if !containsID(cfg.ExcludeChannels, channelID) {
		cfg.ExcludeChannels = append(cfg.ExcludeChannels, channelID)
	}

	if err := h.db.SaveGuildConfig(cfg); err != nil {
		respond(s, i, fmt.Sprintf("Could not save config: %v", err), false)
		return
	}
	respond(s, i, fmt.Sprintf("<#%s> is now excluded from archiving.", channelID), false)
}

func (h *BotHandler) handleInclude(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID := optionMap(i)["channel"].Value.(string)

	cfg, err := h.db.GetGuildConfig(i.GuildID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Could not load config: %v", err), false)
		return
	}

	cfg.ExcludeChannels = removeID(cfg.ExcludeChannels, channelID)
	if cfg.IncludeChannels != nil && !containsID(cfg.IncludeChannels, channelID) {
		cfg.IncludeChannels = append(cfg.IncludeChannels, channelID)
	}

	if err := h.db.SaveGuildConfig(cfg); err != nil {
		respond(s, i, fmt.Sprintf("Could not save config: %v", err), false)
		return
	}
	respond(s, i, fmt.Sprintf("<#%s> is now included in archiving.", channelID), false)
}

func (h *BotHandler) handleSearch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferReply(s, i, false); err != nil {
		h.log.Error("responding to interaction failed", zap.Error(err))
		return
	}

	opts := optionMap(i)
	query := opts["query"].StringValue()
	channelID := ""
	if o, ok := opts["channel"]; ok {
		channelID = o.Value.(string)
	}
	limit := defaultSearchLimit
	if o, ok := opts["limit"]; ok {
		limit = clampSearchLimit(int(o.IntValue()))
	}

	messages, err := h.db.SearchMessages(i.GuildID, channelID, query, limit)
	if err != nil {
		editReply(s, i, fmt.Sprintf("Search failed: %v", err))
		return
	}
	if len(messages) == 0 {
		editReply(s, i, fmt.Sprintf("No archived messages match %q.", query))
		return
	}

	var lines []string
	for _, msg := range messages {
		content := msg.Content
		if len(content) > 120 {
			content = content[:120] + "…"
		}
		lines = append(lines, fmt.Sprintf("`%s` **%s** in <#%s>: %s",
			msg.Timestamp.Format("2006-01-02"), msg.AuthorDisplayName, msg.ChannelID, content))
	}

	reply := strings.Join(lines, "\n")
	if len(reply) > 1900 {
		reply = reply[:1900] + "…"
	}
	editReply(s, i, reply)
}

func (h *BotHandler) handleActivity(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	channelID := opts["channel"].Value.(string)
	days := 7
	if o, ok := opts["days"]; ok {
		days = int(o.IntValue())
	}

	stats, err := h.db.ChannelActivity(channelID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		respond(s, i, fmt.Sprintf("Could not compute activity: %v", err), false)
		return
	}

	respond(s, i, fmt.Sprintf("<#%s>: %d archived messages from %d authors in the last %d days.",
		channelID, stats.MessageCount, stats.AuthorCount, days), false)
}

func (h *BotHandler) handleConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	cfg, err := h.db.GetGuildConfig(i.GuildID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Could not load config: %v", err), false)
		return
	}

	opts := optionMap(i)
	changed := false
	if o, ok := opts["enabled"]; ok {
		cfg.Enabled = o.BoolValue()
		changed = true
	}
	if o, ok := opts["embeddings"]; ok {
		cfg.GenerateEmbeddings = o.BoolValue()
		changed = true
	}

	if changed {
		if err := h.db.SaveGuildConfig(cfg); err != nil {
			respond(s, i, fmt.Sprintf("Could not save config: %v", err), false)
			return
		}
	}

	respond(s, i, fmt.Sprintf("Archive config: enabled=%t, embeddings=%t, excluded=%d, included=%s.",
		cfg.Enabled, cfg.GenerateEmbeddings, len(cfg.ExcludeChannels), includeSummary(cfg.IncludeChannels)), false)
}

func (h *BotHandler) handlePrivacy(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	opts := optionMap(i)

	if o, ok := opts["history"]; ok {
		if _, err := h.privacy.SetHistoryOptOut(userID, o.BoolValue(), i.GuildID); err != nil {
			respond(s, i, fmt.Sprintf("Could not update your settings: %v", err), true)
			return
		}
	}
	if o, ok := opts["training"]; ok {
		if _, err := h.privacy.SetTrainingOptOut(userID, o.BoolValue(), i.GuildID); err != nil {
			respond(s, i, fmt.Sprintf("Could not update your settings: %v", err), true)
			return
		}
	}

	setting, err := h.privacy.GetSettings(userID, i.GuildID)
	if err != nil {
		respond(s, i, fmt.Sprintf("Could not load your settings: %v", err), true)
		return
	}

	respond(s, i, fmt.Sprintf(
		"Your privacy settings here: history opt-out=%t, training opt-out=%t, deletion requested=%t.",
		setting.OptOutHistory, setting.OptOutTraining, setting.RequestedDeletion), true)
}

func (h *BotHandler) handleForgetMe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)

	if o, ok := optionMap(i)["cancel"]; ok && o.BoolValue() {
		cancelled, err := h.privacy.CancelDeletion(userID)
		if err != nil {
			respond(s, i, fmt.Sprintf("Could not cancel your deletion request: %v", err), true)
			return
		}
		if !cancelled {
			respond(s, i, "You have no pending deletion request.", true)
			return
		}
		respond(s, i, "Your deletion request has been cancelled. Already-redacted messages stay redacted.", true)
		return
	}

	if err := deferReply(s, i, true); err != nil {
		h.log.Error("responding to interaction failed", zap.Error(err))
		return
	}

	receipt, err := h.privacy.RequestDeletion(userID)
	if err != nil {
		editReply(s, i, fmt.Sprintf("Your deletion request failed, please try again: %v", err))
		return
	}

	editReply(s, i, fmt.Sprintf(
		"Done. %d archived messages were redacted immediately and will be permanently deleted after %d days. Use `/forgetme cancel:true` before then to rescind.",
		receipt.MessagesRedacted, privacy.DefaultGraceDays))
}

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func deferReply(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

func editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// clampSearchLimit keeps a user-supplied result limit sane; zero or negative
// values would otherwise disable the query cap entirely.
func clampSearchLimit(n int) int {
	if n < 1 {
		return defaultSearchLimit
	}
	if n > maxSearchLimit {
		return maxSearchLimit
	}
	return n
}

// channelInScope applies the same include/exclude rules backfill traversal
// uses, so live capture never archives an out-of-scope channel.
func channelInScope(cfg *models.GuildSyncConfig, channelID string) bool {
	if containsID(cfg.ExcludeChannels, channelID) {
		return false
	}
	if cfg.IncludeChannels != nil && !containsID(cfg.IncludeChannels, channelID) {
		return false
	}
	return true
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(list []string, id string) []string {
	if list == nil {
		return nil
	}
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func includeSummary(include []string) string {
	if include == nil {
		return "all"
	}
	return fmt.Sprintf("%d channels", len(include))
}
