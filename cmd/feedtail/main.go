// feedtail subscribes to tickers on one exchange and prints every update.
// Usage: go run ./cmd/feedtail --exchange binance --symbols BTCUSDT,ETHUSDT
//
// With --redis it also reads back the values a running feedd mirrored, which
// is handy for checking the mirror end to end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/tickerfeed/internal/codec"
	"github.com/rickgao/tickerfeed/internal/config"
	"github.com/rickgao/tickerfeed/internal/feed"
	"github.com/rickgao/tickerfeed/internal/model"
	"github.com/rickgao/tickerfeed/internal/store"
	"github.com/rickgao/tickerfeed/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "optional config file; flags below override it")
	exchange := flag.String("exchange", "", "exchange name (binance, bybit)")
	mode := flag.String("mode", "", "binance stream mode (single, combined)")
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma-separated symbols")
	redisURL := flag.String("redis", "", "redis URL to read mirrored values from")
	statsEvery := flag.Duration("stats", 10*time.Second, "stats interval")
	verbose := flag.Bool("verbose", false, "print full update JSON")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := loadEnv(*envFile); err != nil {
		logger.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *exchange != "" {
		cfg.Exchange.Name = *exchange
		cfg.Exchange.Mode = *mode
		cfg.ApplyDefaults()
	} else if *mode != "" {
		cfg.Exchange.Mode = *mode
	}

	adapter, err := codec.New(cfg.Exchange.Name, cfg.Exchange.CodecOptions())
	if err != nil {
		logger.Error("failed to create adapter", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registryCfg := feed.DefaultConfig()
	registryCfg.Supervisor = cfg.Connections.SupervisorConfig()
	registry := feed.New(registryCfg, adapter, store.New(), logger)

	handle, err := registry.Subscribe(strings.Split(*symbols, ","))
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	var mirrored *writer.RedisBackend
	if *redisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		mirrored, err = writer.DialRedis(dialCtx, *redisURL)
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer mirrored.Close()
	}

	// Watchers run on the feed goroutine, so printing happens elsewhere.
	updates := feed.NewQueue()
	handle.Watch(func(u model.TickerUpdate) { updates.Push(u) })

	go printUpdates(ctx, updates, *verbose)
	go printEvents(ctx, registry, logger)

	go func() {
		ticker := time.NewTicker(*statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := registry.Stats()
				logger.Info("stats",
					"exchange", st.Exchange,
					"symbols", st.Symbols,
					"store_entries", st.StoreEntries,
					"stale_rejects", st.StaleRejects,
					"by_state", st.ByState,
				)
				if mirrored != nil {
					compareMirror(ctx, mirrored, registry, handle.Symbols(), cfg.Redis.MirrorConfig(), logger)
				}
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop",
		"exchange", adapter.Name(),
		"strategy", adapter.Strategy(),
		"symbols", handle.Symbols(),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	handle.Release()
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("registry close", "error", err)
	}
	updates.Close()
	logger.Info("shutdown complete", "coalesced_prints", updates.Stats().Coalesced)
}

// loadEnv loads a dotenv file. A missing file is not an error.
func loadEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func printUpdates(ctx context.Context, updates *feed.Queue, verbose bool) {
	for {
		u, err := updates.Next(ctx)
		if err != nil {
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(u, "", "  ")
			fmt.Printf("[TICKER] %s\n", data)
		} else {
			fmt.Printf("[TICKER] %s %s price=%s change=%s%% vol=%s at=%s\n",
				u.Exchange, u.Symbol, u.Price, u.Change24hPct, u.Volume24h,
				u.ObservedAt.Format(time.RFC3339Nano))
		}
	}
}

func printEvents(ctx context.Context, registry *feed.Registry, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-registry.Events():
			if e.Err != nil {
				logger.Warn("feed event", "key", e.Key, "state", e.State, "attempt", e.Attempt, "error", e.Err)
			} else {
				logger.Info("feed event", "key", e.Key, "state", e.State, "attempt", e.Attempt)
			}
		}
	}
}

// compareMirror logs symbols whose mirrored value lags the local one.
func compareMirror(ctx context.Context, backend *writer.RedisBackend, registry *feed.Registry,
	syms []model.Symbol, mc writer.MirrorConfig, logger *slog.Logger) {
	for _, sym := range syms {
		local, ok := registry.Get(sym.String())
		if !ok {
			continue
		}
		remote, err := backend.Latest(ctx, mc.Key(registry.Exchange(), sym))
		switch {
		case errors.Is(err, writer.ErrNotFound):
			logger.Info("mirror missing", "symbol", sym)
		case err != nil:
			logger.Warn("mirror read failed", "symbol", sym, "error", err)
		case remote.ObservedAt.Before(local.ObservedAt):
			logger.Info("mirror behind", "symbol", sym, "lag", local.ObservedAt.Sub(remote.ObservedAt))
		}
	}
}
