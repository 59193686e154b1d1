// internal/archive/traversal.go
package archive

import (
	"context"
	"fmt"

	"discord-archive-bot/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// channelConcurrency bounds parallel channel ingestion within one guild, to
// stay inside Discord's rate limits.
const channelConcurrency = 3

// GuildSyncResult aggregates one guild run. A channel failure is recorded in
// its ChannelSyncResult, not surfaced as an error, so siblings keep going.
type GuildSyncResult struct {
	GuildID            string
	Skipped            bool // sync disabled for the guild
	ChannelsTotal      int
	ChannelsSynced     int
	ChannelsFailed     int
	TotalFetched       int
	TotalStored        int
	CheckpointAdvanced bool
	Channels           []*ChannelSyncResult
}

// SyncGuildChannels enumerates a guild's eligible channels and ingests each
// one independently. Only enumeration failure is fatal; per-channel errors are
// captured in the aggregate result.
func (ing *Ingestor) SyncGuildChannels(ctx context.Context, guildID string, lister ChannelLister, cfg *models.GuildSyncConfig, opts IngestOptions) (*GuildSyncResult, error) {
	channels, err := lister.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("listing channels for guild %s: %w", guildID, err)
	}

	eligible := filterChannels(channels, cfg)

	result := &GuildSyncResult{
		GuildID:       guildID,
		ChannelsTotal: len(eligible),
		Channels:      make([]*ChannelSyncResult, len(eligible)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(channelConcurrency)
	for i, ch := range eligible {
		i, ch := i, ch
		g.Go(func() error {
			res, err := ing.IngestChannel(gctx, guildID, ch, opts)
			if err != nil {
				ing.log.Warn("channel sync failed",
					zap.String("guild_id", guildID),
					zap.String("channel_id", ch.ID()),
					zap.Error(err))
			}
			result.Channels[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range result.Channels {
		if res.Err != nil {
			result.ChannelsFailed++
		} else {
			result.ChannelsSynced++
		}
		result.TotalFetched += res.TotalFetched
		result.TotalStored += res.TotalStored
	}

	return result, nil
}

// filterChannels applies the guild's include/exclude lists and drops channels
// the bot cannot read history in.
func filterChannels(channels []Channel, cfg *models.GuildSyncConfig) []Channel {
	excluded := make(map[string]bool, len(cfg.ExcludeChannels))
	for _, id := range cfg.ExcludeChannels {
		excluded[id] = true
	}

	var included map[string]bool
	if cfg.IncludeChannels != nil {
		included = make(map[string]bool, len(cfg.IncludeChannels))
		for _, id := range cfg.IncludeChannels {
			included[id] = true
		}
	}

	var eligible []Channel
	for _, ch := range channels {
		if excluded[ch.ID()] {
			continue
		}
		if included != nil && !included[ch.ID()] {
			continue
		}
		if !ch.CanReadHistory() {
			continue
		}
		eligible = append(eligible, ch)
	}
	return eligible
}
