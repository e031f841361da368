// Package main is the entry point for talon, an interactive watcher
// for a Falcon-style alert API. It wires the config, the local alert
// cache, the optional read-only HTTP API and the shell together, then
// hands control to the shell until exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mercury0/talon/internal/api"
	"github.com/Mercury0/talon/internal/banner"
	"github.com/Mercury0/talon/internal/config"
	"github.com/Mercury0/talon/internal/shell"
	"github.com/Mercury0/talon/internal/store"
	memorystor "github.com/Mercury0/talon/internal/store/memory"
	postgresstor "github.com/Mercury0/talon/internal/store/postgres"
	sqlitestor "github.com/Mercury0/talon/internal/store/sqlite"
)

func main() {
	defaultPath, _ := config.DefaultPath()

	configPath := flag.String("config", defaultPath, "path to configuration file")
	cacheBackend := flag.String("cache", "", "override cache backend (sqlite, postgres, memory)")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("talon", banner.Version)
		return
	}

	// A missing or broken config file must never stop startup; the
	// shell can create profiles from scratch.
	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		cfg = config.Default()
	}
	if *cacheBackend != "" {
		backend := config.StorageBackend(*cacheBackend)
		if !backend.IsValid() {
			fmt.Fprintf(os.Stderr, "invalid -cache value %q\n", *cacheBackend)
			os.Exit(2)
		}
		cfg.Cache.Backend = backend
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}

	logger := initLogger(&cfg.Logger)
	if loadErr != nil {
		logger.Warn("using default configuration", "path", *configPath, "error", loadErr)
	}

	deps, cleanup, err := initDependencies(cfg, *configPath, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// SIGINT stays with the shell, which arms a per-watch interrupt so
	// Ctrl-C stops a running watch without killing the process.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if deps.server != nil {
		go func() {
			if err := deps.server.Start(); err != nil {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
		logger.Info("api server enabled", "address", cfg.Server.Address())
	}

	if err := deps.shell.Run(ctx); err != nil {
		logger.Error("shell error", "error", err)
	}
	cancel()

	if deps.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
		defer shutdownCancel()
		if err := deps.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	logger.Info("talon stopped")
}

// dependencies holds the initialized top-level components.
type dependencies struct {
	shell  *shell.Shell
	server *api.Server
}

// initDependencies creates the alert store for the configured backend,
// the optional HTTP API, and the shell. Returns the dependencies and a
// cleanup function running in reverse order.
func initDependencies(cfg *config.Config, configPath string, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		alertStore   store.AlertStore
		cleanupFuncs []func()
	)

	switch cfg.Cache.Backend {
	case config.StorageBackendMemory:
		logger.Info("initializing in-memory alert cache")
		alertStore = memorystor.NewStore()

	case config.StorageBackendPostgres:
		logger.Info("initializing postgres alert cache",
			"host", cfg.Cache.Postgres.Host,
			"database", cfg.Cache.Postgres.Database,
		)
		pgStore, err := postgresstor.New(context.Background(), &cfg.Cache.Postgres)
		if err != nil {
			return nil, nil, err
		}
		alertStore = pgStore

	default:
		logger.Info("initializing sqlite alert cache", "path", cfg.Cache.Path)
		sqlStore, err := sqlitestor.New(cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		alertStore = sqlStore
	}
	cleanupFuncs = append(cleanupFuncs, func() {
		if err := alertStore.Close(); err != nil {
			logger.Warn("failed to close alert store", "error", err)
		}
	})

	var server *api.Server
	if cfg.Server.Enabled {
		alertHandler := api.NewAlertHandler(alertStore, logger)
		server = api.NewServer(&cfg.Server, alertHandler, logger)
	}

	sh := shell.New(shell.Deps{
		Config:     cfg,
		ConfigPath: configPath,
		AlertStore: alertStore,
		Logger:     logger,
		Input:      os.Stdin,
		Output:     os.Stdout,
	})

	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	return &dependencies{shell: sh, server: server}, cleanup, nil
}

// initLogger creates the application logger per config. Logs go to
// stderr so they never interleave with alert output on stdout.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
