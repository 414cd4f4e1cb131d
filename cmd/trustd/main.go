package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"licensetrust/internal/app"
	"licensetrust/internal/config"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts"
)

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, pflag.ErrHelp) {
		slog.Error("trustd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "license" {
		return runLicense(args[1:])
	}

	fs := pflag.NewFlagSet("trustd", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", os.Getenv("TRUST_CONFIG"), "path to the YAML config file")
	port := fs.IntP("port", "p", 0, "listen port, overrides server.port")
	migrateOnly := fs.Bool("migrate-only", false, "create or update the database schema and exit")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString(app.AppName))
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		return migrate(ctx, cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

func migrate(ctx context.Context, cfg *config.Config) error {
	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false
	st, err := store.Open(dbCfg, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("database schema is up to date", slog.String("driver", dbCfg.Driver))
	return nil
}
