package main

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/auth"
	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/config"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/email"
	httpapi "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/ldap"
	"github.com/dropDatabas3/portero/internal/metrics"
	"github.com/dropDatabas3/portero/internal/oauth"
	"github.com/dropDatabas3/portero/internal/rate"
	"github.com/dropDatabas3/portero/internal/saml"
	"github.com/dropDatabas3/portero/internal/security/password"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/memory"
	"github.com/dropDatabas3/portero/internal/store/pg"
	migrations "github.com/dropDatabas3/portero/migrations/postgres"
)

func serve(ctx context.Context, cfg *config.Config) error {
	// ─── Storage ───
	var (
		store repository.Store
		ready func(ctx context.Context) error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pgStore, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
			MinConns:        int32(cfg.Storage.Postgres.MinConns),
			ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime),
		})
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer pgStore.Close()

		if cfg.Flags.Migrate {
			if _, err := pgStore.Run(ctx, pg.NewMigrator(migrations.FS, migrations.Dir)); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		store = pgStore
		ready = pgStore.Ping
	case "memory":
		store = memory.New()
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// ─── Cache ───
	var cacheClient cache.Client
	switch cfg.Cache.Kind {
	case "redis":
		c, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		cacheClient = c
	default:
		cacheClient = cache.NewMemory(config.Dur(cfg.Cache.Memory.DefaultTTL))
	}

	// ─── Criptografía ───
	box, err := secretbox.NewFromBase64(cfg.Security.SecretBoxMasterKey)
	if err != nil {
		return fmt.Errorf("secretbox: %w", err)
	}
	keys, err := jwt.NewKeyring(cfg.JWT.ActiveKID, []byte(cfg.JWT.Secret))
	if err != nil {
		return err
	}
	issuer := jwt.NewIssuer(cfg.JWT.Issuer, keys, config.Dur(cfg.JWT.AccessTTL))

	hashParams := password.Params{
		Memory:      cfg.Security.Argon2.MemoryKiB,
		Time:        cfg.Security.Argon2.Time,
		Parallelism: cfg.Security.Argon2.Parallelism,
		KeyLen:      32,
	}
	blacklist, err := password.LoadBlacklist(cfg.Security.PasswordBlacklistPath)
	if err != nil {
		return fmt.Errorf("password blacklist: %w", err)
	}
	policy := password.Policy{
		MinLength:     cfg.Security.PasswordPolicy.MinLength,
		RequireUpper:  cfg.Security.PasswordPolicy.RequireUpper,
		RequireLower:  cfg.Security.PasswordPolicy.RequireLower,
		RequireDigit:  cfg.Security.PasswordPolicy.RequireDigit,
		RequireSymbol: cfg.Security.PasswordPolicy.RequireSymbol,
		Blacklist:     blacklist,
	}

	// ─── Email ───
	var sender email.Sender = email.NopSender{}
	if cfg.SMTP.Host != "" {
		sender = email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
	}

	rec := audit.ZapRecorder{}

	// ─── Servicios ───
	login, err := auth.NewLoginService(auth.LoginServiceDeps{
		Store:             store,
		Issuer:            issuer,
		Secrets:           box,
		Audit:             rec,
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockoutDuration:   cfg.Auth.LockoutDuration,
		HashParams:        hashParams,
	})
	if err != nil {
		return err
	}

	mfa := auth.NewMFAService(auth.MFAServiceDeps{
		Store:      store,
		Secrets:    box,
		Audit:      rec,
		TOTPIssuer: cfg.MFA.TOTPIssuer,
	})

	pwd := auth.NewPasswordService(auth.PasswordServiceDeps{
		Store:         store,
		Cache:         cacheClient,
		Email:         sender,
		Audit:         rec,
		Policy:        policy,
		HashParams:    hashParams,
		HistoryWindow: cfg.Auth.PasswordHistoryWindow,
		ResetTTL:      cfg.Auth.Reset.TTL,
		ResetURLBase:  cfg.Auth.Reset.URLBase,
	})

	provision := auth.NewProvisionService(auth.ProvisionServiceDeps{Store: store, Audit: rec})

	fed := auth.NewFederationService(auth.FederationServiceDeps{
		Store:     store,
		Cache:     cacheClient,
		Issuer:    issuer,
		Audit:     rec,
		Provision: provision,
		Directory: ldap.NewGateway(box),
		SAML:      saml.NewService(),
		OAuth:     oauth.NewClient(box, nil),
	})

	// ─── Rate limiting ───
	var loginLimiter, forgotLimiter, mfaLimiter rate.Limiter
	if cfg.Rate.Enabled {
		newLimiter := func(prefix string, limit int, window time.Duration) rate.Limiter {
			if cfg.Cache.Kind == "redis" {
				client := rdb.NewClient(&rdb.Options{
					Addr:     cfg.Cache.Redis.Addr,
					Password: cfg.Cache.Redis.Password,
					DB:       cfg.Cache.Redis.DB,
				})
				return rate.NewRedisLimiter(client, prefix, limit, window)
			}
			return rate.NewMemoryLimiter(limit, window)
		}
		loginLimiter = newLimiter("rl:login:", cfg.Rate.Login.Limit, config.Dur(cfg.Rate.Login.Window))
		forgotLimiter = newLimiter("rl:forgot:", cfg.Rate.Forgot.Limit, config.Dur(cfg.Rate.Forgot.Window))
		mfaLimiter = newLimiter("rl:mfa:", cfg.Rate.MFAVerify.Limit, config.Dur(cfg.Rate.MFAVerify.Window))
	}

	// ─── HTTP ───
	handler := httpapi.NewRouter(httpapi.RouterDeps{
		Login:              login,
		MFA:                mfa,
		Password:           pwd,
		Federation:         fed,
		Issuer:             issuer,
		LoginLimiter:       loginLimiter,
		ForgotLimiter:      forgotLimiter,
		MFALimiter:         mfaLimiter,
		Metrics:            metrics.Register(nil),
		Ready:              ready,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	srv := httpapi.NewServer(httpapi.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  config.Dur(cfg.Server.ReadTimeout),
		WriteTimeout: config.Dur(cfg.Server.WriteTimeout),
		IdleTimeout:  config.Dur(cfg.Server.IdleTimeout),
	}, handler)

	return srv.Start(ctx)
}
