// Package pg implementa repository.Store sobre PostgreSQL (pgx/v5).
// Las operaciones con semántica de carrera (contador de lockout, consumo de
// backup codes) se resuelven en una sola sentencia SQL, no en el proceso.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

// Store implementa repository.Store sobre un pool pgx.
type Store struct{ pool *pgxpool.Pool }

// Config es el tuning opcional del pool.
type Config struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// New abre el pool y hace un ping de arranque. Un ping fallido es fatal:
// preferimos no arrancar a arrancar sin storage.
func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Users() repository.UserRepository             { return &userRepo{s.pool} }
func (s *Store) MFA() repository.MFARepository                { return &mfaRepo{s.pool} }
func (s *Store) LDAPConfigs() repository.LDAPConfigRepository { return &ldapRepo{s.pool} }
func (s *Store) SSOConfigs() repository.SSOConfigRepository   { return &ssoRepo{s.pool} }

// Ping verifica la conexión.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
