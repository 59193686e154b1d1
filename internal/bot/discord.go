// internal/bot/discord.go
package bot

import (
	"context"

	"discord-archive-bot/internal/archive"

	"github.com/bwmarrin/discordgo"
)

// sessionChannel adapts one discordgo channel to the narrow archive.Channel
// interface, so the pipeline never sees the full platform client.
type sessionChannel struct {
	s  *discordgo.Session
	ch *discordgo.Channel
}

func (c *sessionChannel) ID() string   { return c.ch.ID }
func (c *sessionChannel) Name() string { return c.ch.Name }

func (c *sessionChannel) CanReadHistory() bool {
	perms, err := c.s.State.UserChannelPermissions(c.s.State.User.ID, c.ch.ID)
	if err != nil {
		perms, err = c.s.UserChannelPermissions(c.s.State.User.ID, c.ch.ID)
		if err != nil {
			return false
		}
	}
	need := int64(discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory)
	return perms&need == need
}

func (c *sessionChannel) MessagesBefore(ctx context.Context, beforeID string, limit int) ([]*discordgo.Message, error) {
	return c.s.ChannelMessages(c.ch.ID, limit, beforeID, "", "", discordgo.WithContext(ctx))
}

// SessionChannels lists a guild's text channels through a discordgo session.
// It implements archive.ChannelLister.
type SessionChannels struct {
	s *discordgo.Session
}

func NewSessionChannels(s *discordgo.Session) *SessionChannels {
	return &SessionChannels{s: s}
}

func (l *SessionChannels) GuildChannels(guildID string) ([]archive.Channel, error) {
	channels, err := l.s.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}

	var result []archive.Channel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		result = append(result, &sessionChannel{s: l.s, ch: ch})
	}
	return result, nil
}

// Channel wraps a single channel by id, for the manual sync path.
func (l *SessionChannels) Channel(channelID string) (archive.Channel, error) {
	ch, err := l.s.Channel(channelID)
	if err != nil {
		return nil, err
	}
	return &sessionChannel{s: l.s, ch: ch}, nil
}
