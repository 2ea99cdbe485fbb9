package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"clientportal/internal/pkg/logger"
	"clientportal/internal/platform/config"
	"clientportal/internal/platform/database"
)

var cli struct {
	Config    string `help:"Path to config file." default:"configs/config.yaml" type:"path"`
	Direction string `help:"Migration direction." default:"up" enum:"up,down"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("portal-migrate"),
		kong.Description("Apply or roll back the portal database schema."),
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

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cli.Direction); err != nil {
		return err
	}

	log.Info().Str("direction", cli.Direction).Msg("migration completed")
	return nil
}
