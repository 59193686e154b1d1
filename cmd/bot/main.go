// cmd/bot/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"discord-archive-bot/internal/ai"
	"discord-archive-bot/internal/archive"
	"discord-archive-bot/internal/bot"
	"discord-archive-bot/internal/database"
	"discord-archive-bot/internal/privacy"
	"discord-archive-bot/internal/retention"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// guildConcurrency bounds parallel guild syncs per scheduler tick. Each guild
// owns its own checkpoint and channel set, so this is safe.
const guildConcurrency = 2

func main() {
	// Load environment variables; absence of a .env file is fine
	_ = godotenv.Load()

	logger, err := newLogger(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.NewDB(
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		5432,
	)
	if err != nil {
		logger.Fatal("connecting to database failed", zap.Error(err))
	}

	// Initialize embedding service
	embedder := ai.NewEmbeddingService(os.Getenv("OPENAI_API_KEY"))

	// Privacy manager doubles as the ingestor's opt-out directory
	privacyManager := privacy.NewManager(db, logger)

	maxDays := envInt("MAX_SYNC_DAYS", archive.DefaultMaxDays)
	ingestor := archive.NewIngestor(db, embedder, privacyManager, logger)

	// Create Discord session
	discord, err := discordgo.New("Bot " + os.Getenv("DISCORD_TOKEN"))
	if err != nil {
		logger.Fatal("creating Discord session failed", zap.Error(err))
	}

	channels := bot.NewSessionChannels(discord)
	coordinator := archive.NewCoordinator(db, ingestor, channels, maxDays, logger)

	cleaner := retention.NewCleaner(db, privacyManager,
		envInt("RETENTION_DAYS", 0),
		envInt("DELETION_GRACE_DAYS", privacy.DefaultGraceDays),
		logger)

	botHandler := bot.NewBotHandler(db, coordinator, privacyManager, channels, logger)
	botHandler.SetSession(discord)

	discord.AddHandler(botHandler.OnMessageCreate)
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	if err := discord.Open(); err != nil {
		logger.Fatal("opening Discord connection failed", zap.Error(err))
	}
	defer discord.Close()

	if err := botHandler.RegisterCommands(); err != nil {
		logger.Fatal("registering commands failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncInterval := time.Duration(envInt("SYNC_INTERVAL_MINUTES", 60)) * time.Minute
	go runScheduler(ctx, db, coordinator, cleaner, syncInterval, logger)

	logger.Info("discord archive bot is running",
		zap.Duration("sync_interval", syncInterval),
		zap.Int("max_sync_days", maxDays))

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
}

// runScheduler is the periodic driver: every syncInterval it runs one
// checkpointed sync per configured guild, and once a day a retention/deletion
// cleanup pass.
func runScheduler(ctx context.Context, db *database.DB, coordinator *archive.Coordinator, cleaner *retention.Cleaner, syncInterval time.Duration, logger *zap.Logger) {
	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			syncAllGuilds(ctx, db, coordinator, logger)
		case <-cleanupTicker.C:
			if _, err := cleaner.Run(); err != nil {
				logger.Error("cleanup pass failed", zap.Error(err))
			}
		}
	}
}

func syncAllGuilds(ctx context.Context, db *database.DB, coordinator *archive.Coordinator, logger *zap.Logger) {
	configs, err := db.ListGuildConfigs()
	if err != nil {
		logger.Warn("listing guild configs failed", zap.Error(err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(guildConcurrency)
	for _, cfg := range configs {
		cfg := cfg
		g.Go(func() error {
			if _, err := coordinator.SyncGuild(gctx, cfg.GuildID); err != nil {
				logger.Warn("guild sync failed", zap.String("guild_id", cfg.GuildID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "prod" || mode == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
