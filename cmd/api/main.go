// Command api runs the reconciliation loop and the HTTP API without the Telegram bot.
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
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	cfg.APIEnabled = true

	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.APIMasterKey == "" {
		log.Warn("API_MASTER_KEY not set; only user keys issued by the bot will work")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("init", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shut down")
}
