package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/portero/internal/config"
	"github.com/dropDatabas3/portero/internal/observability/logger"
	"github.com/dropDatabas3/portero/internal/store/pg"
	migrations "github.com/dropDatabas3/portero/migrations/postgres"
)

var version = "dev"

func main() {
	// .env local primero; las variables ya seteadas ganan.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.dev")

	var cfgPath string

	root := &cobra.Command{
		Use:     "portero",
		Short:   "Servicio de autenticación multi-tenant (password, MFA, LDAP, SAML, OAuth2/OIDC)",
		Version: version,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("CONFIG_PATH", "config.yaml"), "ruta al config.yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       envOr("LOG_LEVEL", "info"),
				ServiceName: "portero",
				Version:     version,
			})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones SQL pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver=postgres (actual: %s)", cfg.Storage.Driver)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
				MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
				MinConns:        int32(cfg.Storage.Postgres.MinConns),
				ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.Run(ctx, pg.NewMigrator(migrations.FS, migrations.Dir))
			if err != nil {
				return err
			}
			fmt.Printf("applied=%v skipped=%v duration=%s\n", res.Applied, res.Skipped, res.Duration)
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd, newLDAPCmd(&cfgPath))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
