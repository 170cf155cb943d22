// Package app wires the tracker's components for the binaries in cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/suspectuso/usdt-tracker/internal/api"
	"github.com/suspectuso/usdt-tracker/internal/config"
	"github.com/suspectuso/usdt-tracker/internal/notifier"
	"github.com/suspectuso/usdt-tracker/internal/reconcile"
	"github.com/suspectuso/usdt-tracker/internal/storage"
	"github.com/suspectuso/usdt-tracker/internal/trongrid"
)

// App holds the long-lived components shared by the bot and API binaries
type App struct {
	Config  *config.Config
	Storage *storage.Storage
	Chain   *trongrid.Client
	Sinks   *notifier.Fanout
	Engine  *reconcile.Engine
	API     *api.Server

	log     *slog.Logger
	closers []func() error
}

// New opens storage, builds the TronGrid client, the notification sinks and the engine.
// Sinks can still be added to a.Sinks until Run is called.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.Storage = store
	a.closers = append(a.closers, store.Close)
	log.Info("storage initialized", "backend", store.Backend())

	if cfg.APIMasterKey != "" {
		if err := store.ImportAPIKey(ctx, cfg.APIMasterKey, storage.SystemUserID); err != nil {
			a.Close()
			return nil, fmt.Errorf("import master key: %w", err)
		}
	}

	a.Chain = trongrid.NewClient(cfg.TronAPIURL, cfg.TronAPIKey,
		trongrid.WithContract(cfg.USDTContract),
		trongrid.WithTransferLimit(cfg.TransferLimit),
		trongrid.WithOnlyConfirmed(cfg.OnlyConfirmed),
		trongrid.WithOnlineValidation(cfg.VerifyAddressOnline),
		trongrid.WithTimeout(cfg.HTTPTimeout),
		trongrid.WithRetries(cfg.HTTPRetries, trongrid.DefaultRetryDelay),
		trongrid.WithRateLimit(cfg.RequestsPerSecond),
		trongrid.WithLogger(log),
	)
	log.Info("trongrid client initialized", "base_url", cfg.TronAPIURL, "contract", cfg.USDTContract)

	a.Sinks = notifier.NewFanout().
		Add("history", notifier.NewHistory(store)).
		Add("callback", notifier.NewCallback(cfg.HTTPTimeout))

	if cfg.RedisURL != "" {
		rs, err := notifier.NewRedis(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			log.Warn("redis not reachable, events will still be published when it is", "error", err)
		}
		a.Sinks.Add("redis", rs)
		a.closers = append(a.closers, rs.Close)
		log.Info("redis publisher enabled", "channel", cfg.RedisChannel)
	}

	a.Engine = reconcile.New(a.Chain, store, a.Sinks,
		reconcile.WithConcurrency(cfg.ReconcileConcurrency),
		reconcile.WithExpiryGrace(cfg.ExpiryGrace),
		reconcile.WithLogger(log),
	)

	if cfg.APIEnabled {
		a.API = api.NewServer(store, a.Engine, cfg.PendingTTL, log)
	}

	return a, nil
}

// Run starts the reconciliation loop and, if enabled, the API server.
// It blocks until ctx is done and both have stopped.
func (a *App) Run(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		apiErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Engine.Run(ctx, a.Config.CheckInterval)
	}()

	if a.API != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.API.Start(ctx, a.Config.APIPort); err != nil {
				a.log.Error("api server", "error", err)
				apiErr = err
			}
		}()
	}

	wg.Wait()
	return apiErr
}

// Close releases storage and the Redis client
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
