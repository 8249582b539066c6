package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

// ─── LDAP ───

type ldapRepo struct{ pool *pgxpool.Pool }

const ldapColumns = `
	id, tenant_id, host, port, use_ssl, use_starttls, bind_dn, bind_password_enc,
	base_dn, user_search_filter, group_search_base,
	email_attr, given_name_attr, family_name_attr, display_name_attr, group_attr,
	connect_timeout_ms, search_timeout_ms, max_results,
	auto_provision, default_role, group_role_mappings,
	valid, validation_error, last_validated_at, last_synced_at,
	created_at, updated_at`

func scanLDAP(row pgx.Row) (*repository.LDAPConfiguration, error) {
	var (
		c              repository.LDAPConfiguration
		connectMS      int64
		searchMS       int64
		groupRolesJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Host, &c.Port, &c.UseSSL, &c.UseStartTLS, &c.BindDN,
		&c.BindPasswordEncrypted, &c.BaseDN, &c.UserSearchFilter, &c.GroupSearchBase,
		&c.EmailAttribute, &c.GivenNameAttribute, &c.FamilyNameAttribute,
		&c.DisplayNameAttribute, &c.GroupAttribute,
		&connectMS, &searchMS, &c.MaxResults,
		&c.AutoProvisionUsers, &c.DefaultRole, &groupRolesJSON,
		&c.Valid, &c.ValidationError, &c.LastValidatedAt, &c.LastSyncedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	c.ConnectTimeout = time.Duration(connectMS) * time.Millisecond
	c.SearchTimeout = time.Duration(searchMS) * time.Millisecond
	if len(groupRolesJSON) > 0 {
		if err := json.Unmarshal(groupRolesJSON, &c.GroupRoleMappings); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *ldapRepo) GetByTenant(ctx context.Context, tenantID string) (*repository.LDAPConfiguration, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ldapColumns+` FROM ldap_configuration WHERE tenant_id = $1
	`, tenantID)
	return scanLDAP(row)
}

func (r *ldapRepo) Upsert(ctx context.Context, cfg *repository.LDAPConfiguration) error {
	groupRoles, err := json.Marshal(cfg.GroupRoleMappings)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO ldap_configuration (
			id, tenant_id, host, port, use_ssl, use_starttls, bind_dn,
			bind_password_enc, base_dn, user_search_filter, group_search_base,
			email_attr, given_name_attr, family_name_attr, display_name_attr,
			group_attr, connect_timeout_ms, search_timeout_ms, max_results,
			auto_provision, default_role, group_role_mappings
		)
		VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (tenant_id) DO UPDATE SET
			host = EXCLUDED.host, port = EXCLUDED.port,
			use_ssl = EXCLUDED.use_ssl, use_starttls = EXCLUDED.use_starttls,
			bind_dn = EXCLUDED.bind_dn, bind_password_enc = EXCLUDED.bind_password_enc,
			base_dn = EXCLUDED.base_dn, user_search_filter = EXCLUDED.user_search_filter,
			group_search_base = EXCLUDED.group_search_base,
			email_attr = EXCLUDED.email_attr, given_name_attr = EXCLUDED.given_name_attr,
			family_name_attr = EXCLUDED.family_name_attr,
			display_name_attr = EXCLUDED.display_name_attr,
			group_attr = EXCLUDED.group_attr,
			connect_timeout_ms = EXCLUDED.connect_timeout_ms,
			search_timeout_ms = EXCLUDED.search_timeout_ms,
			max_results = EXCLUDED.max_results,
			auto_provision = EXCLUDED.auto_provision,
			default_role = EXCLUDED.default_role,
			group_role_mappings = EXCLUDED.group_role_mappings,
			valid = false, validation_error = '',
			updated_at = now()
		RETURNING id
	`,
		cfg.TenantID, cfg.Host, cfg.Port, cfg.UseSSL, cfg.UseStartTLS, cfg.BindDN,
		cfg.BindPasswordEncrypted, cfg.BaseDN, cfg.UserSearchFilter, cfg.GroupSearchBase,
		cfg.EmailAttribute, cfg.GivenNameAttribute, cfg.FamilyNameAttribute,
		cfg.DisplayNameAttribute, cfg.GroupAttribute,
		cfg.ConnectTimeout.Milliseconds(), cfg.SearchTimeout.Milliseconds(), cfg.MaxResults,
		cfg.AutoProvisionUsers, cfg.DefaultRole, groupRoles,
	).Scan(&cfg.ID)
}

func (r *ldapRepo) SetValidation(ctx context.Context, id string, valid bool, verr string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ldap_configuration SET
			valid = $2, validation_error = $3, last_validated_at = $4, updated_at = now()
		WHERE id = $1
	`, id, valid, verr, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *ldapRepo) TouchSynced(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ldap_configuration SET last_synced_at = $2, updated_at = now() WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── SSO (SAML / OAuth / OIDC) ───

type ssoRepo struct{ pool *pgxpool.Pool }

const ssoColumns = `
	id, tenant_id, provider, entity_id, sso_url, logout_url, signing_cert_pem,
	client_id, client_secret_enc, scopes, authority, authorize_url, token_url,
	user_info_url, callback_url, attribute_mappings,
	auto_provision, default_role, valid, validation_error, created_at, updated_at`

func scanSSO(row pgx.Row) (*repository.SSOConfiguration, error) {
	var (
		c        repository.SSOConfiguration
		attrJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Provider, &c.EntityID, &c.SSOURL, &c.LogoutURL,
		&c.SigningCertificatePEM, &c.ClientID, &c.ClientSecretEncrypted, &c.Scopes,
		&c.Authority, &c.AuthorizeURL, &c.TokenURL, &c.UserInfoURL, &c.CallbackURL,
		&attrJSON, &c.AutoProvisionUsers, &c.DefaultRole,
		&c.Valid, &c.ValidationError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &c.AttributeMappings); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *ssoRepo) GetByTenantProvider(ctx context.Context, tenantID string, provider repository.SSOProvider) (*repository.SSOConfiguration, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ssoColumns+` FROM sso_configuration
		WHERE tenant_id = $1 AND provider = $2
	`, tenantID, provider)
	return scanSSO(row)
}

func (r *ssoRepo) ListByTenant(ctx context.Context, tenantID string) ([]repository.SSOConfiguration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ssoColumns+` FROM sso_configuration
		WHERE tenant_id = $1
		ORDER BY provider
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.SSOConfiguration
	for rows.Next() {
		c, err := scanSSO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ssoRepo) Upsert(ctx context.Context, cfg *repository.SSOConfiguration) error {
	attrs, err := json.Marshal(cfg.AttributeMappings)
	if err != nil {
		return err
	}
	scopes := cfg.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO sso_configuration (
			id, tenant_id, provider, entity_id, sso_url, logout_url,
			signing_cert_pem, client_id, client_secret_enc, scopes, authority,
			authorize_url, token_url, user_info_url, callback_url,
			attribute_mappings, auto_provision, default_role
		)
		VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			entity_id = EXCLUDED.entity_id, sso_url = EXCLUDED.sso_url,
			logout_url = EXCLUDED.logout_url,
			signing_cert_pem = EXCLUDED.signing_cert_pem,
			client_id = EXCLUDED.client_id,
			client_secret_enc = EXCLUDED.client_secret_enc,
			scopes = EXCLUDED.scopes, authority = EXCLUDED.authority,
			authorize_url = EXCLUDED.authorize_url, token_url = EXCLUDED.token_url,
			user_info_url = EXCLUDED.user_info_url,
			callback_url = EXCLUDED.callback_url,
			attribute_mappings = EXCLUDED.attribute_mappings,
			auto_provision = EXCLUDED.auto_provision,
			default_role = EXCLUDED.default_role,
			valid = false, validation_error = '',
			updated_at = now()
		RETURNING id
	`,
		cfg.TenantID, cfg.Provider, cfg.EntityID, cfg.SSOURL, cfg.LogoutURL,
		cfg.SigningCertificatePEM, cfg.ClientID, cfg.ClientSecretEncrypted, scopes,
		cfg.Authority, cfg.AuthorizeURL, cfg.TokenURL, cfg.UserInfoURL,
		cfg.CallbackURL, attrs, cfg.AutoProvisionUsers, cfg.DefaultRole,
	).Scan(&cfg.ID)
}

func (r *ssoRepo) SetValidation(ctx context.Context, id string, valid bool, verr string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sso_configuration SET
			valid = $2, validation_error = $3, last_validated_at = $4, updated_at = now()
		WHERE id = $1
	`, id, valid, verr, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
