package auth

import (
	"context"
	"time"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/metrics"
	"github.com/dropDatabas3/portero/internal/observability/logger"
)

// Session es el resultado uniforme de cualquier autenticación exitosa,
// venga de password, MFA, directorio o federación.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Roles        []string
	UserID       string
}

// sessionIssuer emite la Session final. Todos los métodos de autenticación
// terminan acá, así el resultado es agnóstico del protocolo.
type sessionIssuer struct {
	issuer *jwt.Issuer
	audit  audit.Recorder
}

func (s *sessionIssuer) issue(ctx context.Context, user *repository.User, method string) (*Session, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("auth.session"), logger.Op("issue"))

	access, exp, err := s.issuer.IssueAccess(user, user.Roles)
	if err != nil {
		log.Error("failed to issue access token", logger.Err(err))
		return nil, err
	}
	refresh, _, err := s.issuer.IssueRefresh()
	if err != nil {
		log.Error("failed to issue refresh token", logger.Err(err))
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Name:     "session.issued",
		TenantID: user.TenantID,
		UserID:   user.ID,
		Email:    user.Email,
		Provider: method,
		Success:  true,
	})
	metrics.ObserveAuthAttempt(method, "success")

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    exp,
		Roles:        user.Roles,
		UserID:       user.ID,
	}, nil
}
