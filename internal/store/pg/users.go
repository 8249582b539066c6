package pg

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

type userRepo struct{ pool *pgxpool.Pool }

const userColumns = `
	id, tenant_id, email, email_confirmed, given_name, family_name, display_name,
	status, password_hash, mfa_enabled, mfa_enabled_at, failed_attempts,
	lockout_until, roles, created_at, updated_at`

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.EmailConfirmed, &u.GivenName, &u.FamilyName,
		&u.DisplayName, &u.Status, &u.PasswordHash, &u.MFAEnabled, &u.MFAEnabledAt,
		&u.FailedAttempts, &u.LockoutUntil, &u.Roles, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, tenantID, email string) (*repository.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM app_user
		WHERE tenant_id = $1 AND lower(email) = $2
	`, tenantID, email)
	return scanUser(row)
}

func (r *userRepo) GetByID(ctx context.Context, userID string) (*repository.User, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM app_user WHERE id = $1`, uid)
	return scanUser(row)
}

func (r *userRepo) Create(ctx context.Context, in repository.CreateUserInput) (*repository.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.TenantID == "" {
		return nil, repository.ErrInvalidInput
	}
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO app_user (
			id, tenant_id, email, email_confirmed, given_name, family_name,
			display_name, status, password_hash, roles
		)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+userColumns,
		in.TenantID, email, in.EmailConfirmed, in.GivenName, in.FamilyName,
		in.DisplayName, in.Status, in.PasswordHash, roles,
	)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return u, nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, userID string, in repository.UpdateProfileInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE app_user SET
			given_name   = COALESCE($2, given_name),
			family_name  = COALESCE($3, family_name),
			display_name = COALESCE($4, display_name),
			updated_at   = now()
		WHERE id = $1
	`, userID, in.GivenName, in.FamilyName, in.DisplayName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE app_user SET password_hash = $2, updated_at = now() WHERE id = $1
	`, userID, newHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RegisterFailedAttempt incrementa el contador y fija el lockout en una sola
// sentencia: dos logins fallidos concurrentes no pueden pisarse el contador.
func (r *userRepo) RegisterFailedAttempt(ctx context.Context, userID string, maxAttempts int, lockoutFor time.Duration) (repository.LockoutResult, error) {
	var res repository.LockoutResult
	err := r.pool.QueryRow(ctx, `
		UPDATE app_user SET
			failed_attempts = failed_attempts + 1,
			lockout_until   = CASE
				WHEN failed_attempts + 1 >= $2 THEN now() + $3::interval
				ELSE lockout_until
			END,
			updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts, lockout_until
	`, userID, maxAttempts, lockoutFor.String()).Scan(&res.FailedAttempts, &res.LockoutUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, repository.ErrNotFound
		}
		return res, err
	}
	return res, nil
}

func (r *userRepo) ResetLockout(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE app_user SET failed_attempts = 0, lockout_until = NULL, updated_at = now()
		WHERE id = $1
	`, userID)
	return err
}

func (r *userRepo) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE app_user SET
			mfa_enabled    = $2,
			mfa_enabled_at = CASE WHEN $2 THEN now() ELSE NULL END,
			updated_at     = now()
		WHERE id = $1
	`, userID, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddPasswordHistory inserta el hash y poda la ventana en la misma operación.
func (r *userRepo) AddPasswordHistory(ctx context.Context, userID, hash string, keepLast int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_history (id, user_id, password_hash)
		VALUES (gen_random_uuid(), $1, $2)
	`, userID, hash)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`, userID, keepLast)
	return err
}

func (r *userRepo) ListPasswordHistory(ctx context.Context, userID string, n int) ([]repository.PasswordHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, password_hash, created_at
		FROM password_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.PasswordHistoryEntry
	for rows.Next() {
		var e repository.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
