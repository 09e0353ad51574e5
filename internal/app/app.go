package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kvlite/internal/config"
	"github.com/dokzlo13/kvlite/internal/kv"
	luart "github.com/dokzlo13/kvlite/internal/lua"
)

// App owns the store built from configuration and its lifecycle.
type App struct {
	cfg   *config.Config
	Store *kv.Store
}

// New creates an App with an unopened store.
func New(cfg *config.Config) *App {
	return &App{
		cfg:   cfg,
		Store: kv.New(cfg.Store.DBOptions(), cfg.Store.KVOptions()),
	}
}

// Open initializes the store and starts the sweeper when one is configured.
func (a *App) Open(ctx context.Context) error {
	if err := a.Store.Init(ctx); err != nil {
		return err
	}

	if interval := a.cfg.Store.SweepInterval.Duration(); interval > 0 {
		a.Store.StartSweeper(ctx, interval)
	}
	return nil
}

// RunScript executes a Lua script against the store.
func (a *App) RunScript(ctx context.Context, path string) error {
	runtime := luart.NewRuntime(a.Store)
	defer runtime.Close()

	return runtime.Run(ctx, path)
}

// Commit commits writes left pending by manual-commit mode, so one run of
// the CLI is one transaction. With auto-commit on, an open transaction was
// begun explicitly and is left for Close to roll back.
func (a *App) Commit(ctx context.Context) error {
	if a.cfg.Store.IsAutoCommit() || !a.Store.InTransaction() {
		return nil
	}
	return a.Store.CommitTransaction(ctx)
}

// Close closes the store. An open transaction is rolled back.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close KV store")
		return err
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
