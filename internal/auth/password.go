package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/email"
	"github.com/dropDatabas3/portero/internal/observability/logger"
	"github.com/dropDatabas3/portero/internal/security/password"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
)

// PasswordService cubre cambio de password y reset en dos fases.
type PasswordService interface {
	// Change cambia el password verificando el actual primero.
	Change(ctx context.Context, userID, currentPassword, newPassword string) error

	// RequestReset inicia el reset: genera un token de un solo uso con TTL y
	// lo envía por email. Email desconocido no es un error observable.
	RequestReset(ctx context.Context, tenantID, emailAddr string) error

	// ConfirmReset canjea el token y fija el password nuevo.
	ConfirmReset(ctx context.Context, token, newPassword string) error
}

// PasswordServiceDeps contiene las dependencias del servicio de passwords.
type PasswordServiceDeps struct {
	Store  repository.Store
	Cache  cache.Client
	Email  email.Sender
	Audit  audit.Recorder
	Policy password.Policy

	HashParams password.Params

	// HistoryWindow es la cantidad de passwords anteriores cuyo reuso se
	// rechaza. Cero usa 5.
	HistoryWindow int

	// ResetTTL es la vigencia del token de reset. Cero usa 30 minutos.
	ResetTTL time.Duration

	// ResetURLBase es el prefijo del link que viaja en el email.
	ResetURLBase string
}

type passwordService struct {
	store         repository.Store
	cache         cache.Client
	email         email.Sender
	audit         audit.Recorder
	policy        password.Policy
	params        password.Params
	historyWindow int
	resetTTL      time.Duration
	resetURLBase  string
}

// NewPasswordService crea el servicio de passwords.
func NewPasswordService(deps PasswordServiceDeps) PasswordService {
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = 5
	}
	if deps.ResetTTL <= 0 {
		deps.ResetTTL = 30 * time.Minute
	}
	params := deps.HashParams
	if params.KeyLen == 0 {
		params = password.Default
	}
	policy := deps.Policy
	if policy.MinLength == 0 {
		policy = password.DefaultPolicy
	}
	if deps.Email == nil {
		deps.Email = email.NopSender{}
	}
	return &passwordService{
		store:         deps.Store,
		cache:         deps.Cache,
		email:         deps.Email,
		audit:         deps.Audit,
		policy:        policy,
		params:        params,
		historyWindow: deps.HistoryWindow,
		resetTTL:      deps.ResetTTL,
		resetURLBase:  deps.ResetURLBase,
	}
}

func (s *passwordService) Change(ctx context.Context, userID, currentPassword, newPassword string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.password"), logger.Op("Change"), logger.UserID(userID))

	// 1. Verificar el password actual
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil || !password.Verify(currentPassword, *user.PasswordHash) {
		log.Warn("current password rejected")
		return ErrInvalidCredential
	}

	// 2. Fijar el nuevo
	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{Name: "password.changed", TenantID: user.TenantID, UserID: userID, Success: true})
	log.Info("password changed")
	return nil
}

func (s *passwordService) RequestReset(ctx context.Context, tenantID, emailAddr string) error {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.password"), logger.Op("RequestReset"), logger.TenantID(tenantID), logger.Email(emailAddr))

	// 1. Buscar usuario. Email desconocido se responde igual que conocido:
	// nada que enumerar.
	user, err := s.store.Users().GetByEmail(ctx, tenantID, emailAddr)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Debug("reset requested for unknown email")
			return nil
		}
		return err
	}

	// 2. Generar token opaco y guardarlo con TTL; la key es la huella, nunca
	// el token en claro
	raw, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return err
	}
	key := resetKey(tokens.SHA256Base64URL(raw))
	if err := s.cache.Set(ctx, key, user.ID, s.resetTTL); err != nil {
		log.Error("failed to store reset token", logger.Err(err))
		return err
	}

	// 3. Enviar el email
	link := raw
	if s.resetURLBase != "" {
		link = strings.TrimSuffix(s.resetURLBase, "/") + "/" + raw
	}
	subject := "Restablecer tu password"
	html := fmt.Sprintf(`<p>Recibimos un pedido para restablecer tu password.</p><p><a href="%s">Restablecer password</a></p><p>El link vence en %d minutos. Si no fuiste vos, ignorá este mensaje.</p>`, link, int(s.resetTTL.Minutes()))
	text := fmt.Sprintf("Recibimos un pedido para restablecer tu password.\n\n%s\n\nEl link vence en %d minutos. Si no fuiste vos, ignorá este mensaje.\n", link, int(s.resetTTL.Minutes()))
	if err := s.email.Send(ctx, user.Email, subject, html, text); err != nil {
		log.Error("failed to send reset email", logger.Err(err))
		return err
	}

	s.audit.Record(ctx, audit.Event{Name: "password.reset_requested", TenantID: tenantID, UserID: user.ID, Email: emailAddr, Success: true})
	log.Info("reset email sent")
	return nil
}

func (s *passwordService) ConfirmReset(ctx context.Context, token, newPassword string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.password"), logger.Op("ConfirmReset"))

	// 1. Consumir el token de forma atómica: dos canjes concurrentes no pueden
	// tener éxito ambos
	userID, err := s.cache.GetDel(ctx, resetKey(tokens.SHA256Base64URL(token)))
	if err != nil {
		if cache.IsNotFound(err) {
			log.Warn("reset token not found or expired")
			return ErrTokenExpired
		}
		return err
	}

	// 2. Fijar el password nuevo
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	// 3. El reset limpia cualquier lockout pendiente
	if err := s.store.Users().ResetLockout(ctx, user.ID); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Event{Name: "password.reset_completed", TenantID: user.TenantID, UserID: user.ID, Success: true})
	log.Info("password reset completed", logger.UserID(user.ID))
	return nil
}

// setPassword aplica política + historial y primero archiva el hash viejo.
func (s *passwordService) setPassword(ctx context.Context, user *repository.User, newPassword string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.password"), logger.Op("setPassword"), logger.UserID(user.ID))

	// Política de fortaleza
	if ok, reasons, score := s.policy.Validate(newPassword); !ok {
		log.Warn("password rejected by policy", logger.Int("score", score), logger.Any("reasons", reasons))
		return fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(reasons, "; "))
	}

	// Reuso contra la ventana de historial (incluye el password vigente)
	if user.PasswordHash != nil && password.Verify(newPassword, *user.PasswordHash) {
		return fmt.Errorf("%w: reuses a recent password", ErrPasswordPolicy)
	}
	history, err := s.store.Users().ListPasswordHistory(ctx, user.ID, s.historyWindow)
	if err != nil {
		return err
	}
	for _, entry := range history {
		if password.Verify(newPassword, entry.PasswordHash) {
			log.Warn("password reuse rejected")
			return fmt.Errorf("%w: reuses a recent password", ErrPasswordPolicy)
		}
	}

	// Archivar el hash viejo antes de pisarlo
	if user.PasswordHash != nil {
		if err := s.store.Users().AddPasswordHistory(ctx, user.ID, *user.PasswordHash, s.historyWindow); err != nil {
			return err
		}
	}

	newHash, err := password.Hash(s.params, newPassword)
	if err != nil {
		return err
	}
	return s.store.Users().UpdatePasswordHash(ctx, user.ID, newHash)
}

func resetKey(fingerprint string) string {
	return "pwreset:" + fingerprint
}
