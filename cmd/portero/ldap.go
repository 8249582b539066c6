package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/portero/internal/config"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/ldap"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/pg"
)

// newLDAPCmd agrupa las operaciones administrativas contra el directorio de un
// tenant: validar la configuración, listar entradas y sincronizar usuarios.
func newLDAPCmd(cfgPath *string) *cobra.Command {
	var tenantID string

	ldapCmd := &cobra.Command{
		Use:   "ldap",
		Short: "Operaciones administrativas sobre el directorio LDAP de un tenant",
	}
	ldapCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant a operar (requerido)")
	_ = ldapCmd.MarkPersistentFlagRequired("tenant")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Valida la configuración LDAP del tenant (estructura + conexión en vivo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLDAPEnv(*cfgPath, tenantID, func(ctx context.Context, gw *ldap.Gateway, store repository.Store, cfg *repository.LDAPConfiguration) error {
				res, err := gw.TestConnection(ctx, cfg, store.LDAPConfigs())
				if err != nil {
					return err
				}
				for _, w := range res.Warnings {
					fmt.Println("warning:", w)
				}
				for _, e := range res.Errors {
					fmt.Println("error:", e)
				}
				if !res.Valid {
					return fmt.Errorf("configuración inválida (%d errores)", len(res.Errors))
				}
				fmt.Println("ok")
				return nil
			})
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Lista las entradas del directorio que matchean el filtro configurado",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLDAPEnv(*cfgPath, tenantID, func(ctx context.Context, gw *ldap.Gateway, _ repository.Store, cfg *repository.LDAPConfiguration) error {
				ids, err := gw.SearchUsers(ctx, cfg)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Printf("%s\t%s\n", id.Email, id.DisplayName)
				}
				fmt.Printf("total=%d\n", len(ids))
				return nil
			})
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sincroniza los usuarios del directorio hacia el store del tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLDAPEnv(*cfgPath, tenantID, func(ctx context.Context, gw *ldap.Gateway, store repository.Store, cfg *repository.LDAPConfiguration) error {
				stats, err := gw.SynchronizeUsers(ctx, cfg, store)
				if err != nil {
					return err
				}
				fmt.Printf("found=%d created=%d updated=%d skipped=%d\n",
					stats.Found, stats.Created, stats.Updated, stats.Skipped)
				return nil
			})
		},
	}

	ldapCmd.AddCommand(checkCmd, searchCmd, syncCmd)
	return ldapCmd
}

// withLDAPEnv arma el entorno mínimo para operar contra el directorio: store
// postgres, secretbox y la configuración LDAP del tenant.
func withLDAPEnv(cfgPath, tenantID string, fn func(ctx context.Context, gw *ldap.Gateway, store repository.Store, ldapCfg *repository.LDAPConfiguration) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("las operaciones ldap requieren storage.driver=postgres (actual: %s)", cfg.Storage.Driver)
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

	box, err := secretbox.NewFromBase64(cfg.Security.SecretBoxMasterKey)
	if err != nil {
		return err
	}

	ldapCfg, err := store.LDAPConfigs().GetByTenant(ctx, tenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return fmt.Errorf("el tenant %q no tiene configuración LDAP", tenantID)
		}
		return err
	}
	return fn(ctx, ldap.NewGateway(box), store, ldapCfg)
}
