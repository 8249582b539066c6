package repository

import (
	"context"
	"time"
)

// MFASecret representa el secreto TOTP de un usuario.
// El secreto se guarda cifrado (secretbox); nunca en claro.
type MFASecret struct {
	UserID          string
	SecretEncrypted string
	ConfirmedAt     *time.Time
	LastUsedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BackupCode es un código de respaldo de un solo uso.
// Se guarda como hash salteado; el valor en claro solo se muestra una vez.
type BackupCode struct {
	ID       string
	UserID   string
	CodeHash string
	Used     bool
	UsedAt   *time.Time
}

// MFARepository define operaciones sobre MFA (TOTP y backup codes).
type MFARepository interface {
	// ─── TOTP ───

	// UpsertSecret crea o reemplaza el secreto TOTP de un usuario.
	// Reemplaza también resetea confirmed_at y last_used_at.
	UpsertSecret(ctx context.Context, userID, secretEnc string) error

	// GetSecret obtiene el secreto TOTP de un usuario.
	// Retorna ErrNotFound si no existe.
	GetSecret(ctx context.Context, userID string) (*MFASecret, error)

	// ConfirmSecret marca el secreto como confirmado (el usuario verificó un código).
	ConfirmSecret(ctx context.Context, userID string, at time.Time) error

	// TouchSecret actualiza last_used_at (anti-replay del paso TOTP).
	TouchSecret(ctx context.Context, userID string, at time.Time) error

	// DeleteSecret elimina el secreto TOTP y todos los backup codes del usuario.
	DeleteSecret(ctx context.Context, userID string) error

	// ─── Backup codes ───

	// ReplaceBackupCodes reemplaza el set completo de backup codes.
	// El set anterior queda invalidado aunque tuviera códigos sin usar.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error

	// ConsumeBackupCode marca como usado el código cuyo hash coincida, si existe
	// y no fue usado. La operación es atómica: dos consumos concurrentes del
	// mismo código no pueden tener éxito ambos. Retorna true si consumió.
	ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error)

	// CountUnusedBackupCodes retorna cuántos códigos sin usar quedan.
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
}
