package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/suspectuso/usdt-tracker/internal/app"
	"github.com/suspectuso/usdt-tracker/internal/config"
	"github.com/suspectuso/usdt-tracker/internal/logging"
	"github.com/suspectuso/usdt-tracker/internal/notifier"
	"github.com/suspectuso/usdt-tracker/internal/telegram"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg := config.Load()

	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found")
	}

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("init", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	bot, err := telegram.New(cfg, a.Storage, a.Chain, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	a.Sinks.Add("telegram", notifier.NewTelegram(bot))
	log.Info("telegram bot initialized", "private_mode", cfg.PrivateMode, "admins", len(cfg.AdminUserIDs))

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	bot.Start(ctx)

	log.Info("shutting down...")
	<-done
}
