package auth

import (
	"context"
	"strings"
	"time"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/metrics"
	"github.com/dropDatabas3/portero/internal/observability/logger"
	"github.com/dropDatabas3/portero/internal/security/password"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
)

// LoginService autentica con email+password y resuelve el segundo factor.
type LoginService interface {
	// Login ejecuta el paso 1. Si el usuario tiene MFA y no mandó código, el
	// resultado trae RequiresMFA=true con el token puente y ningún access token.
	Login(ctx context.Context, tenantID, email, pass, mfaCode string) (*LoginResult, error)

	// CompleteMFA canjea el token puente + código TOTP (o backup code) por la
	// sesión definitiva.
	CompleteMFA(ctx context.Context, pendingToken, code string) (*LoginResult, error)
}

// LoginResult es el resultado del paso de login.
// O bien una Session completa, o bien RequiresMFA con el token puente.
type LoginResult struct {
	RequiresMFA     bool
	MFAPendingToken string
	Session         *Session
}

// LoginServiceDeps contiene las dependencias del servicio de login.
type LoginServiceDeps struct {
	Store   repository.Store
	Issuer  *jwt.Issuer
	Secrets *secretbox.Box
	Audit   audit.Recorder

	// MaxFailedAttempts y LockoutDuration controlan el lockout.
	// Cero usa 5 intentos / 15 minutos.
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	HashParams password.Params
}

type loginService struct {
	store       repository.Store
	issuer      *jwt.Issuer
	secrets     *secretbox.Box
	sessions    sessionIssuer
	audit       audit.Recorder
	maxAttempts int
	lockoutFor  time.Duration

	// dummyHash se verifica cuando el usuario no existe o no tiene password,
	// para que el costo del camino fallido no delate la existencia de la cuenta.
	dummyHash string
}

// NewLoginService crea el servicio de login.
func NewLoginService(deps LoginServiceDeps) (LoginService, error) {
	if deps.MaxFailedAttempts <= 0 {
		deps.MaxFailedAttempts = 5
	}
	if deps.LockoutDuration <= 0 {
		deps.LockoutDuration = 15 * time.Minute
	}
	params := deps.HashParams
	if params.KeyLen == 0 {
		params = password.Default
	}
	dummy, err := password.Hash(params, "portero-dummy-verification-subject")
	if err != nil {
		return nil, err
	}
	return &loginService{
		store:       deps.Store,
		issuer:      deps.Issuer,
		secrets:     deps.Secrets,
		sessions:    sessionIssuer{issuer: deps.Issuer, audit: deps.Audit},
		audit:       deps.Audit,
		maxAttempts: deps.MaxFailedAttempts,
		lockoutFor:  deps.LockoutDuration,
		dummyHash:   dummy,
	}, nil
}

func (s *loginService) Login(ctx context.Context, tenantID, email, pass, mfaCode string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth.login"),
		logger.Op("Login"),
		logger.TenantID(tenantID),
		logger.Email(email),
	)

	// 1. Buscar usuario por email normalizado
	user, err := s.store.Users().GetByEmail(ctx, tenantID, email)
	if err != nil {
		if repository.IsNotFound(err) {
			// Verificación dummy: mismo costo que el camino real.
			password.Verify(pass, s.dummyHash)
			log.Warn("login failed", logger.String("reason", "unknown user"))
			s.recordFailure(ctx, tenantID, "", email)
			return nil, ErrInvalidCredential
		}
		log.Error("failed to get user", logger.Err(err))
		return nil, err
	}

	// 2. Rechazar si hay lockout vigente, antes de tocar el contador
	if user.LockedOut(time.Now()) {
		log.Warn("login rejected", logger.String("reason", "locked out"))
		s.audit.Record(ctx, audit.Event{
			Name: "login.locked", TenantID: tenantID, UserID: user.ID, Email: email, Provider: "password",
		})
		metrics.ObserveAuthAttempt("password", "locked")
		return nil, ErrAccountLocked
	}

	// 3. Verificar password (usuarios solo-federados no tienen hash)
	verified := false
	if user.PasswordHash != nil {
		verified = password.Verify(pass, *user.PasswordHash)
	} else {
		password.Verify(pass, s.dummyHash)
	}

	// 4. En falla, registrar el intento de forma atómica; el umbral dispara lockout
	if !verified {
		res, rerr := s.store.Users().RegisterFailedAttempt(ctx, user.ID, s.maxAttempts, s.lockoutFor)
		if rerr != nil {
			log.Error("failed to register attempt", logger.Err(rerr))
			return nil, rerr
		}
		if res.LockoutUntil != nil {
			log.Warn("account locked out", logger.Int("failed_attempts", res.FailedAttempts))
			metrics.ObserveLockout(tenantID)
		}
		log.Warn("login failed", logger.String("reason", "wrong password"))
		s.recordFailure(ctx, tenantID, user.ID, email)
		return nil, ErrInvalidCredential
	}

	// 5. En éxito, limpiar contador y lockout
	if user.FailedAttempts > 0 || user.LockoutUntil != nil {
		if err := s.store.Users().ResetLockout(ctx, user.ID); err != nil {
			log.Error("failed to reset lockout", logger.Err(err))
			return nil, err
		}
	}

	// 6. Gates de estado de cuenta
	if user.Status != repository.UserStatusActive {
		log.Warn("login rejected", logger.String("reason", "account not active"))
		return nil, ErrAccountInactive
	}
	if !user.EmailConfirmed {
		log.Warn("login rejected", logger.String("reason", "email unconfirmed"))
		return nil, ErrEmailUnconfirmed
	}

	// 7. Gate de segundo factor
	if user.MFAEnabled {
		if mfaCode == "" {
			pending, perr := s.issuer.IssueMFAPending(user.ID)
			if perr != nil {
				log.Error("failed to issue mfa pending token", logger.Err(perr))
				return nil, perr
			}
			log.Info("mfa required")
			return &LoginResult{RequiresMFA: true, MFAPendingToken: pending}, nil
		}
		if err := s.verifySecondFactor(ctx, user.ID, mfaCode); err != nil {
			return nil, err
		}
	}

	// 8. Emitir la sesión
	sess, err := s.sessions.issue(ctx, user, "password")
	if err != nil {
		return nil, err
	}
	log.Info("login ok", logger.UserID(user.ID))
	return &LoginResult{Session: sess}, nil
}

func (s *loginService) CompleteMFA(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.login"), logger.Op("CompleteMFA"))

	// 1. Validar el token puente (solo token_type=mfa)
	userID, err := s.issuer.ValidateMFAPending(pendingToken)
	if err != nil {
		log.Warn("invalid mfa pending token", logger.Err(err))
		switch err {
		case jwt.ErrTokenExpired:
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenMalformed
		}
	}

	// 2. Cargar usuario y re-chequear gates: el estado pudo cambiar entre pasos
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	if user.LockedOut(time.Now()) {
		return nil, ErrAccountLocked
	}
	if user.Status != repository.UserStatusActive {
		return nil, ErrAccountInactive
	}
	if !user.EmailConfirmed {
		return nil, ErrEmailUnconfirmed
	}

	// 3. Verificar el segundo factor
	if err := s.verifySecondFactor(ctx, user.ID, code); err != nil {
		return nil, err
	}

	// 4. Emitir la sesión
	sess, err := s.sessions.issue(ctx, user, "mfa")
	if err != nil {
		return nil, err
	}
	log.Info("mfa completed", logger.UserID(user.ID))
	return &LoginResult{Session: sess}, nil
}

// verifySecondFactor acepta un código TOTP vigente o, si no verifica, un
// backup code sin usar. Cualquier otra cosa es ErrInvalidMFACode sin cambios
// de estado.
func (s *loginService) verifySecondFactor(ctx context.Context, userID, code string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.login"), logger.Op("verifySecondFactor"), logger.UserID(userID))

	ok, err := verifyUserTOTP(ctx, s.store.MFA(), s.secrets, userID, code)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	consumed, err := consumeUserBackupCode(ctx, s.store.MFA(), userID, code)
	if err != nil {
		return err
	}
	if consumed {
		log.Info("backup code consumed")
		return nil
	}

	log.Warn("invalid mfa code")
	metrics.ObserveMFAFailure("code")
	s.audit.Record(ctx, audit.Event{Name: "mfa.failed", UserID: userID})
	return ErrInvalidMFACode
}

func (s *loginService) recordFailure(ctx context.Context, tenantID, userID, email string) {
	s.audit.Record(ctx, audit.Event{
		Name: "login.failed", TenantID: tenantID, UserID: userID, Email: email, Provider: "password",
	})
	metrics.ObserveAuthAttempt("password", "failure")
}
