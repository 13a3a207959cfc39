// feedd keeps latest 24h tickers for a configured symbol list, optionally
// mirrors them to Redis and Postgres and serves health and debug endpoints.
// Usage: go run ./cmd/feedd --config configs/feedd.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickerfeed/internal/codec"
	"github.com/rickgao/tickerfeed/internal/config"
	"github.com/rickgao/tickerfeed/internal/connection"
	"github.com/rickgao/tickerfeed/internal/feed"
	"github.com/rickgao/tickerfeed/internal/logging"
	"github.com/rickgao/tickerfeed/internal/model"
	"github.com/rickgao/tickerfeed/internal/store"
	"github.com/rickgao/tickerfeed/internal/version"
	"github.com/rickgao/tickerfeed/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/feedd.example.yaml", "path to config file (empty = defaults only)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging.Options())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("feedd exited with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("feedd stopped")
}

func loadConfig(path string) (*config.FeedConfig, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}

func run(ctx context.Context, cfg *config.FeedConfig, logger *slog.Logger) error {
	adapter, err := codec.New(cfg.Exchange.Name, cfg.Exchange.CodecOptions())
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"exchange", adapter.Name(),
		"strategy", adapter.Strategy(),
		"symbols", len(cfg.Symbols),
	)

	registryCfg := feed.DefaultConfig()
	registryCfg.Supervisor = cfg.Connections.SupervisorConfig()
	st := store.New()
	registry := feed.New(registryCfg, adapter, st, logger)

	srv := &server{registry: registry, logger: logger}

	var mirrors []*writer.Mirror
	if cfg.Redis.Enabled {
		logger.Info("connecting to redis")
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		backend, err := writer.DialRedis(dialCtx, cfg.Redis.URL)
		cancel()
		if err != nil {
			return err
		}
		defer backend.Close()

		m := writer.NewMirror(cfg.Redis.MirrorConfig(), st, backend, logger)
		if err := m.Start(ctx); err != nil {
			return err
		}
		srv.addMirror("redis", backend, m)
		mirrors = append(mirrors, m)
	}
	if cfg.Postgres.Enabled {
		logger.Info("connecting to postgres", "host", cfg.Postgres.Host, "table", cfg.Postgres.Table)
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		backend, err := writer.DialPostgres(dialCtx, cfg.Postgres.PostgresOptions())
		cancel()
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer backend.Close()

		m := writer.NewMirror(cfg.Postgres.MirrorConfig(), st, backend, logger)
		if err := m.Start(ctx); err != nil {
			return err
		}
		srv.addMirror("postgres", backend, m)
		mirrors = append(mirrors, m)
	}

	handle, err := registry.Subscribe(cfg.Symbols)
	if err != nil {
		return err
	}
	logger.Info("subscribed", "handle", handle.ID(), "symbols", len(handle.Symbols()))

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.HTTP.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logEvents(gctx, registry.Events(), logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// Mirrors stop before the release so it never reaches them as deletes.
		for _, m := range mirrors {
			if err := m.Stop(shutdownCtx); err != nil {
				logger.Warn("mirror stop", "error", err)
			}
		}
		handle.Release()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown", "error", err)
		}
		if err := registry.Close(shutdownCtx); err != nil {
			logger.Warn("feed registry close", "error", err)
		}
		return nil
	})

	logger.Info("feedd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.HTTP.Port),
	)

	return g.Wait()
}

// logEvents reports supervisor transitions until ctx is done.
func logEvents(ctx context.Context, events <-chan connection.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			switch {
			case e.State == model.StateFailed:
				logger.Error("feed failed", "key", e.Key, "attempt", e.Attempt, "error", e.Err)
			case e.Err != nil:
				logger.Warn("feed state", "key", e.Key, "state", e.State, "attempt", e.Attempt, "error", e.Err)
			default:
				logger.Debug("feed state", "key", e.Key, "state", e.State, "attempt", e.Attempt)
			}
		}
	}
}
