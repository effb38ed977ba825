package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fenggwsx/SlashRelay/internal/auth"
	"github.com/fenggwsx/SlashRelay/internal/bus"
	"github.com/fenggwsx/SlashRelay/internal/bus/natsbus"
	"github.com/fenggwsx/SlashRelay/internal/bus/redisbus"
	"github.com/fenggwsx/SlashRelay/internal/config"
	"github.com/fenggwsx/SlashRelay/internal/logging"
	"github.com/fenggwsx/SlashRelay/internal/server"
	"github.com/fenggwsx/SlashRelay/internal/storage"
	"github.com/fenggwsx/SlashRelay/internal/storage/postgres"
	"github.com/fenggwsx/SlashRelay/internal/storage/sqlite"
)

func main() {
	issue := flag.String("issue-token", "", "print a signed token for `subject` and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if *issue != "" {
		if !cfg.JWT.Enabled() {
			logger.Error("RELAY_JWT_SECRET is required to issue tokens")
			os.Exit(1)
		}
		token, err := auth.NewToken(cfg.JWT, *issue, *issue)
		if err != nil {
			logger.Error("issue token", "err", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("init storage", "err", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	b, err := openBus(ctx, cfg, logger)
	if err != nil {
		logger.Error("init bus", "err", err)
		os.Exit(1)
	}
	if b != nil {
		defer b.Close()
	}

	app, err := server.NewApp(cfg, logger, store, b)
	if err != nil {
		logger.Error("init server", "err", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("server shutdown", "err", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriver() {
	case "sqlite":
		logger.Info("storage", "driver", "sqlite", "path", cfg.Database.Path)
		return sqlite.NewStore(cfg.Database)
	case "postgres":
		logger.Info("storage", "driver", "postgres")
		return postgres.NewStore(ctx, cfg.Database.PGURL, logger)
	default:
		return nil, nil
	}
}

func openBus(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.BusDriver() {
	case "redis":
		logger.Info("bus", "driver", "redis", "addr", cfg.Bus.RedisAddr)
		return redisbus.New(ctx, redisbus.Options{
			Addr:    cfg.Bus.RedisAddr,
			DB:      cfg.Bus.RedisDB,
			Channel: cfg.Bus.Subject,
			Logger:  logger,
		})
	case "nats":
		logger.Info("bus", "driver", "nats", "url", cfg.Bus.NATSURL)
		return natsbus.New(natsbus.Options{
			URL:     cfg.Bus.NATSURL,
			Subject: cfg.Bus.Subject,
			Name:    "slashrelay",
			Logger:  logger,
		})
	default:
		return nil, nil
	}
}
