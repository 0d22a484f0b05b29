package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/myakuari-bot/internal/ads"
	"github.com/raine/myakuari-bot/internal/analysis"
	"github.com/raine/myakuari-bot/internal/bot"
	"github.com/raine/myakuari-bot/internal/config"
	"github.com/raine/myakuari-bot/internal/imageproc"
	"github.com/raine/myakuari-bot/internal/quota"
	"github.com/raine/myakuari-bot/internal/storage"
)

const logFileName = "myakuari-bot.log"

func fatal(format string, a ...any) {
	log.Fatal().Msgf(format, a...)
}

func setupLogging() func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// JOURNAL_STREAM is set by systemd when running as a service.
	// journald keeps the log there.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return func() {}
	}

	// Local development: log to both stderr and file
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fatal("failed to open log file: %v", err)
	}
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	log.Info().Str("logFile", logFileName).Msg("logging to file")
	return func() { logFile.Close() }
}

func newSender(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) (analysis.Sender, error) {
	switch cfg.Backend {
	case config.BackendGemini:
		apiKey, err := store.EnsureSecret("gemini_api_key", cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini api key: %w", err)
		}
		return analysis.NewGeminiClient(ctx, analysis.GeminiClientOpts{
			APIKey:  apiKey,
			Timeout: cfg.RequestTimeout,
		})
	default:
		token, err := store.EnsureSecret("proxy_token", cfg.ProxyToken)
		if err != nil {
			return nil, fmt.Errorf("proxy token: %w", err)
		}
		return analysis.NewProxyClient(analysis.ProxyClientOpts{
			Endpoint: cfg.Endpoint,
			Token:    token,
			Timeout:  cfg.RequestTimeout,
		}), nil
	}
}

func main() {
	closeLog := setupLogging()
	defer closeLog()

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}

	encryptionKey, err := storage.DeriveKey(cfg.SecretKey)
	if err != nil {
		fatal("failed to derive encryption key: %v", err)
	}
	store, err := storage.NewSQLiteStore(cfg.DBPath, encryptionKey)
	if err != nil {
		fatal("failed to initialize store: %v", err)
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	variant, err := analysis.ParseVariant(cfg.SchemaVariant)
	if err != nil {
		fatal("%v", err)
	}
	sender, err := newSender(ctx, cfg, store)
	if err != nil {
		fatal("failed to initialize analysis backend: %v", err)
	}
	builder := analysis.NewBuilder(cfg.Model, variant, analysis.GenerationOverrides{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	pipeline := analysis.NewPipeline(builder, sender)
	log.Info().
		Str("backend", string(cfg.Backend)).
		Str("model", cfg.Model).
		Str("variant", string(variant)).
		Dur("timeout", cfg.RequestTimeout).
		Msg("analysis pipeline initialized")

	processor := imageproc.NewProcessor(imageproc.Options{
		MaxWidth:        cfg.ImageMaxWidth,
		MaxHeight:       cfg.ImageMaxHeight,
		MaxBytes:        cfg.ImageMaxBytes,
		MaxSourcePixels: cfg.ImageMaxSourcePixels,
		Strict:          cfg.ImageStrict,
	})

	rewarder := ads.NewSponsorRewarder(ads.SponsorOpts{FeedURL: cfg.SponsorFeedURL})
	quotaManager := quota.NewManager(store, rewarder)

	tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		fatal("failed to initialize telegram bot: %v", err)
	}
	tg.Debug = false
	log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

	// Register bot commands for Telegram's command menu
	bot.RegisterCommands(tg)

	b := bot.NewBot(tg, bot.Deps{
		Analyzer:  pipeline,
		Quota:     quotaManager,
		Attempts:  store,
		Processor: processor,
	})
	rewarder.SetPresenter(b)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runBot(ctx, tg, b)
	})
	g.Go(func() error {
		return rewarder.Preload(ctx, cfg.SponsorRefresh)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	defer b.Shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
