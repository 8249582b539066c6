package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

type mfaRepo struct{ pool *pgxpool.Pool }

// UpsertSecret reemplaza el secreto y resetea el estado de confirmación:
// un secreto nuevo siempre vuelve a pasar por VerifySetup.
func (r *mfaRepo) UpsertSecret(ctx context.Context, userID, secretEnc string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_mfa_totp (user_id, secret_encrypted)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			confirmed_at     = NULL,
			last_used_at     = NULL,
			updated_at       = now()
	`, userID, secretEnc)
	return err
}

func (r *mfaRepo) GetSecret(ctx context.Context, userID string) (*repository.MFASecret, error) {
	var s repository.MFASecret
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, secret_encrypted, confirmed_at, last_used_at, created_at, updated_at
		FROM user_mfa_totp
		WHERE user_id = $1
	`, userID).Scan(&s.UserID, &s.SecretEncrypted, &s.ConfirmedAt, &s.LastUsedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *mfaRepo) ConfirmSecret(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_mfa_totp SET confirmed_at = $2, updated_at = now() WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) TouchSecret(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_mfa_totp SET last_used_at = $2, updated_at = now() WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) DeleteSecret(ctx context.Context, userID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_code WHERE user_id = $1`, userID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM user_mfa_totp WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *mfaRepo) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_code WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		_, err := tx.Exec(ctx, `
			INSERT INTO mfa_backup_code (id, user_id, code_hash)
			VALUES (gen_random_uuid(), $1, $2)
		`, userID, h)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ConsumeBackupCode resuelve la carrera en una sola sentencia: el predicado
// NOT used garantiza que a lo sumo un consumo concurrente afecta la fila.
func (r *mfaRepo) ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mfa_backup_code SET used = true, used_at = $3
		WHERE user_id = $1 AND code_hash = $2 AND NOT used
	`, userID, hash, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *mfaRepo) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM mfa_backup_code WHERE user_id = $1 AND NOT used
	`, userID).Scan(&n)
	return n, err
}
