package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/metrics"
	"github.com/dropDatabas3/portero/internal/observability/logger"
	"github.com/dropDatabas3/portero/internal/security/password"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
	"github.com/dropDatabas3/portero/internal/security/totp"
)

const (
	backupCodeCount  = 8
	backupCodeDigits = 8
)

// MFAService gestiona el ciclo de vida del segundo factor de un usuario.
type MFAService interface {
	// Setup genera secreto TOTP + URI otpauth + backup codes. El usuario queda
	// con mfaEnabled=false hasta que VerifySetup confirme un código.
	Setup(ctx context.Context, userID string) (*MFASetup, error)

	// VerifySetup valida el primer código contra el secreto recién generado y
	// habilita MFA.
	VerifySetup(ctx context.Context, userID, code string) error

	// VerifyCode valida un código TOTP vigente (sin tocar backup codes).
	VerifyCode(ctx context.Context, userID, code string) error

	// VerifyBackupCode consume un backup code sin usar. Un solo uso.
	VerifyBackupCode(ctx context.Context, userID, code string) error

	// RegenerateBackupCodes reemplaza el set completo, previa re-autenticación
	// del password.
	RegenerateBackupCodes(ctx context.Context, userID, currentPassword string) ([]string, error)

	// Disable re-autentica el password, borra el secreto TOTP e invalida todos
	// los backup codes.
	Disable(ctx context.Context, userID, currentPassword string) error
}

// MFASetup es el material de enrolamiento. Los backup codes en claro se
// muestran una única vez.
type MFASetup struct {
	SecretBase32 string
	OTPAuthURL   string
	BackupCodes  []string
}

// MFAServiceDeps contiene las dependencias del servicio MFA.
type MFAServiceDeps struct {
	Store   repository.Store
	Secrets *secretbox.Box
	Audit   audit.Recorder

	// TOTPIssuer es el nombre que muestra la app autenticadora.
	TOTPIssuer string
}

type mfaService struct {
	store      repository.Store
	secrets    *secretbox.Box
	audit      audit.Recorder
	totpIssuer string
}

// NewMFAService crea el servicio MFA.
func NewMFAService(deps MFAServiceDeps) MFAService {
	if deps.TOTPIssuer == "" {
		deps.TOTPIssuer = "portero"
	}
	return &mfaService{
		store:      deps.Store,
		secrets:    deps.Secrets,
		audit:      deps.Audit,
		totpIssuer: deps.TOTPIssuer,
	}
}

func (s *mfaService) Setup(ctx context.Context, userID string) (*MFASetup, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.mfa"), logger.Op("Setup"), logger.UserID(userID))

	// 1. Cargar usuario: el label del otpauth URI es su email
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 2. Generar secreto de 160 bits y URI de aprovisionamiento
	enrollment, err := totp.GenerateSecret(s.totpIssuer, user.Email)
	if err != nil {
		log.Error("failed to generate totp secret", logger.Err(err))
		return nil, err
	}

	// 3. Guardar el secreto cifrado; reemplaza cualquier enrolamiento previo
	secretEnc, err := s.secrets.Encrypt(enrollment.SecretBase32)
	if err != nil {
		return nil, err
	}
	if err := s.store.MFA().UpsertSecret(ctx, userID, secretEnc); err != nil {
		log.Error("failed to store totp secret", logger.Err(err))
		return nil, err
	}

	// 4. Generar y guardar los backup codes (solo hashes)
	codes, err := s.replaceBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	log.Info("mfa setup generated")
	return &MFASetup{
		SecretBase32: enrollment.SecretBase32,
		OTPAuthURL:   enrollment.OTPAuthURL,
		BackupCodes:  codes,
	}, nil
}

func (s *mfaService) VerifySetup(ctx context.Context, userID, code string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.mfa"), logger.Op("VerifySetup"), logger.UserID(userID))

	secret, err := s.store.MFA().GetSecret(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrMFANotEnrolled
		}
		return err
	}
	plain, err := s.secrets.Decrypt(secret.SecretEncrypted)
	if err != nil {
		return err
	}
	now := time.Now()
	if !totp.Verify(plain, code, now, secret.LastUsedAt) {
		log.Warn("setup code invalid")
		metrics.ObserveMFAFailure("setup")
		return ErrInvalidMFACode
	}

	// Confirmación + habilitación: ambas deben quedar persistidas antes de
	// reportar éxito.
	if err := s.store.MFA().ConfirmSecret(ctx, userID, now); err != nil {
		return err
	}
	if err := s.store.MFA().TouchSecret(ctx, userID, now); err != nil {
		return err
	}
	if err := s.store.Users().SetMFAEnabled(ctx, userID, true); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{Name: "mfa.enabled", UserID: userID, Success: true})
	log.Info("mfa enabled")
	return nil
}

func (s *mfaService) VerifyCode(ctx context.Context, userID, code string) error {
	ok, err := verifyUserTOTP(ctx, s.store.MFA(), s.secrets, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		metrics.ObserveMFAFailure("code")
		return ErrInvalidMFACode
	}
	return nil
}

func (s *mfaService) VerifyBackupCode(ctx context.Context, userID, code string) error {
	consumed, err := consumeUserBackupCode(ctx, s.store.MFA(), userID, code)
	if err != nil {
		return err
	}
	if !consumed {
		metrics.ObserveMFAFailure("backup")
		return ErrInvalidMFACode
	}
	return nil
}

func (s *mfaService) RegenerateBackupCodes(ctx context.Context, userID, currentPassword string) ([]string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.mfa"), logger.Op("RegenerateBackupCodes"), logger.UserID(userID))

	if err := s.reauthenticate(ctx, userID, currentPassword); err != nil {
		return nil, err
	}
	codes, err := s.replaceBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{Name: "mfa.backup_codes_regenerated", UserID: userID, Success: true})
	log.Info("backup codes regenerated")
	return codes, nil
}

func (s *mfaService) Disable(ctx context.Context, userID, currentPassword string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.mfa"), logger.Op("Disable"), logger.UserID(userID))

	// 1. Re-autenticar: deshabilitar MFA con una sesión robada no debe alcanzar
	if err := s.reauthenticate(ctx, userID, currentPassword); err != nil {
		return err
	}

	// 2. Borrar secreto y backup codes, después apagar el flag
	if err := s.store.MFA().DeleteSecret(ctx, userID); err != nil && !repository.IsNotFound(err) {
		return err
	}
	if err := s.store.Users().SetMFAEnabled(ctx, userID, false); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{Name: "mfa.disabled", UserID: userID, Success: true})
	log.Info("mfa disabled")
	return nil
}

// reauthenticate verifica el password actual del usuario.
func (s *mfaService) reauthenticate(ctx context.Context, userID, currentPassword string) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil || !password.Verify(currentPassword, *user.PasswordHash) {
		return ErrInvalidCredential
	}
	return nil
}

// replaceBackupCodes genera el set nuevo y reemplaza el anterior completo.
func (s *mfaService) replaceBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := randomDigits(backupCodeDigits)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, backupCodeHash(userID, code))
	}
	if err := s.store.MFA().ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// ─── helpers compartidos con el login ───

// verifyUserTOTP valida un código TOTP contra el secreto confirmado del
// usuario y registra el paso usado (anti-replay dentro del mismo step).
func verifyUserTOTP(ctx context.Context, mfaRepo repository.MFARepository, box *secretbox.Box, userID, code string) (bool, error) {
	secret, err := mfaRepo.GetSecret(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if secret.ConfirmedAt == nil {
		return false, nil
	}
	plain, err := box.Decrypt(secret.SecretEncrypted)
	if err != nil {
		return false, err
	}
	now := time.Now()
	if !totp.Verify(plain, code, now, secret.LastUsedAt) {
		return false, nil
	}
	if err := mfaRepo.TouchSecret(ctx, userID, now); err != nil {
		return false, err
	}
	return true, nil
}

// consumeUserBackupCode intenta consumir un backup code. El hash es
// determinístico por usuario para que el repositorio pueda consumir por
// igualdad exacta de forma atómica.
func consumeUserBackupCode(ctx context.Context, mfaRepo repository.MFARepository, userID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	return mfaRepo.ConsumeBackupCode(ctx, userID, backupCodeHash(userID, code), time.Now())
}

func backupCodeHash(userID, code string) string {
	return tokens.HMACSHA256Base64URL([]byte("backup:"+userID), code)
}

// randomDigits genera n dígitos decimales criptográficamente aleatorios.
func randomDigits(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}
