package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

type ldapRepo struct{ s *Store }

func (r *ldapRepo) GetByTenant(_ context.Context, tenantID string) (*repository.LDAPConfiguration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cfg, ok := r.s.ldap[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *cfg
	return &out, nil
}

func (r *ldapRepo) Upsert(_ context.Context, cfg *repository.LDAPConfiguration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cfg.TenantID == "" {
		return repository.ErrInvalidInput
	}
	cp := *cfg
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.s.ldap[cp.TenantID] = &cp
	cfg.ID = cp.ID
	return nil
}

func (r *ldapRepo) SetValidation(_ context.Context, id string, valid bool, verr string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cfg := range r.s.ldap {
		if cfg.ID == id {
			cfg.Valid = valid
			cfg.ValidationError = verr
			cfg.LastValidatedAt = &at
			cfg.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *ldapRepo) TouchSynced(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cfg := range r.s.ldap {
		if cfg.ID == id {
			cfg.LastSyncedAt = &at
			cfg.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repository.ErrNotFound
}

type ssoRepo struct{ s *Store }

func (r *ssoRepo) GetByTenantProvider(_ context.Context, tenantID string, provider repository.SSOProvider) (*repository.SSOConfiguration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cfg, ok := r.s.sso[ssoKey(tenantID, provider)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *cfg
	return &out, nil
}

func (r *ssoRepo) ListByTenant(_ context.Context, tenantID string) ([]repository.SSOConfiguration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []repository.SSOConfiguration
	for _, cfg := range r.s.sso {
		if cfg.TenantID == tenantID {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (r *ssoRepo) Upsert(_ context.Context, cfg *repository.SSOConfiguration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cfg.TenantID == "" || cfg.Provider == "" {
		return repository.ErrInvalidInput
	}
	cp := *cfg
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.s.sso[ssoKey(cp.TenantID, cp.Provider)] = &cp
	cfg.ID = cp.ID
	return nil
}

func (r *ssoRepo) SetValidation(_ context.Context, id string, valid bool, verr string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cfg := range r.s.sso {
		if cfg.ID == id {
			cfg.Valid = valid
			cfg.ValidationError = verr
			cfg.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repository.ErrNotFound
}
