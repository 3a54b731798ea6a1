package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tunedrop/internal/bot"
	"tunedrop/internal/config"
	"tunedrop/internal/extract"
	"tunedrop/internal/files"
	"tunedrop/internal/httpapi"
	"tunedrop/internal/jobs"
	"tunedrop/internal/persistence"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.NewFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := os.MkdirAll(cfg.Download.Dir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create download directory")
	}

	history, err := persistence.NewHistoryStore(cfg.Download.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open history store")
	}
	defer history.Close()

	var engineOpts []extract.Option
	if cfg.Download.CookieFile != "" {
		engineOpts = append(engineOpts, extract.WithCookieFile(cfg.Download.CookieFile))
	}
	engine := extract.NewYTDLP(logger, engineOpts...)
	registry := jobs.NewRegistry(logger)
	manager := jobs.NewManager(registry, engine, history, cfg.Download.Dir, logger)

	sweeper := files.NewSweeper(cfg.Download.Dir, cfg.Download.RetentionWindow, logger)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Download.SweepInterval), func() {
		if removed, err := sweeper.Sweep(); err != nil {
			logger.Warn().Err(err).Msg("retention sweep failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Msg("retention sweep finished")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule retention sweeper")
	}
	scheduler.Start()
	defer scheduler.Stop()

	opts := []httpapi.Option{
		httpapi.WithSearchLimit(cfg.Download.SearchLimit),
		httpapi.WithDefaultQuality(cfg.Download.DefaultQuality),
	}
	if cfg.Bot.Enabled() {
		chatBot := bot.New(
			cfg.Bot.Token,
			engine,
			manager,
			cfg.Download.Dir,
			cfg.Download.DefaultQuality,
			cfg.Download.SearchLimit,
			logger,
		)
		if err := chatBot.SetWebhook(context.Background(), cfg.Bot.WebhookURL); err != nil {
			logger.Warn().Err(err).Msg("failed to register bot webhook")
		}
		opts = append(opts, httpapi.WithWebhook(chatBot.WebhookHandler()))
	}

	server := httpapi.NewServer(logger, engine, manager, history, cfg.Download.Dir, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Int("port", cfg.Server.Port).Msg("listening")
		if err := server.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}
