package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"clientportal/internal/pkg/logger"
	"clientportal/internal/platform/config"
	"clientportal/internal/platform/database"
	"clientportal/internal/platform/repositories"
	"clientportal/internal/workers"
)

var cli struct {
	Config string `help:"Path to config file." default:"configs/config.yaml" type:"path"`
	Once   bool   `help:"Run a single purge pass and exit."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("portal-worker"),
		kong.Description("Background maintenance for the client portal."),
	)
	kctx.FatalIfErrorf(run())
}

func run() error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	closer := logger.Init(cfg.Logging)
	defer closer.Close()

	db, err := database.OpenAndMigrate(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tokenRepo := repositories.NewTokenRepository(db, cfg.Auth.TokenTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cli.Once {
		_, err := workers.PurgeExpiredTokens(ctx, tokenRepo, cfg.Tokens.Retention, time.Now())
		return err
	}

	workers.RunTokenPurge(ctx, tokenRepo, cfg.Tokens.Retention, cfg.Tokens.PurgeInterval)
	return nil
}
