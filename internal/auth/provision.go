package auth

import (
	"context"
	"strings"

	"github.com/dropDatabas3/portero/internal/audit"
	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
	"github.com/dropDatabas3/portero/internal/observability/logger"
)

// ProvisionService resuelve una identidad normalizada (de cualquier método)
// al usuario local del tenant.
type ProvisionService interface {
	// Resolve busca por email case-insensitive; si no existe y el
	// auto-provisioning está permitido, crea un usuario Active con email
	// confirmado. Si existe, refresca los campos de nombre. Nunca degrada
	// status ni flags de confirmación.
	Resolve(ctx context.Context, id *identity.Normalized, tenantID string, autoProvision bool, defaultRole string) (*repository.User, error)
}

// ProvisionServiceDeps contiene las dependencias del provisioner.
type ProvisionServiceDeps struct {
	Store repository.Store
	Audit audit.Recorder
}

type provisionService struct {
	store repository.Store
	audit audit.Recorder
}

// NewProvisionService crea el provisioner de identidades.
func NewProvisionService(deps ProvisionServiceDeps) ProvisionService {
	return &provisionService{store: deps.Store, audit: deps.Audit}
}

func (s *provisionService) Resolve(ctx context.Context, id *identity.Normalized, tenantID string, autoProvision bool, defaultRole string) (*repository.User, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth.provision"),
		logger.Op("Resolve"),
		logger.TenantID(tenantID),
		logger.Provider(id.Provider),
	)

	if !id.Normalize() {
		return nil, ErrInvalidCredential
	}
	log = log.With(logger.Email(id.Email))

	// 1. Buscar por email dentro del tenant
	user, err := s.store.Users().GetByEmail(ctx, tenantID, id.Email)
	switch {
	case err == nil:
		// 2a. Existente: refrescar solo nombres. Status, confirmación y roles
		// no se tocan: la federación nunca degrada una cuenta local.
		in := repository.UpdateProfileInput{}
		changed := false
		if id.GivenName != "" && id.GivenName != user.GivenName {
			in.GivenName = &id.GivenName
			changed = true
		}
		if id.FamilyName != "" && id.FamilyName != user.FamilyName {
			in.FamilyName = &id.FamilyName
			changed = true
		}
		if id.DisplayName != "" && id.DisplayName != user.DisplayName {
			in.DisplayName = &id.DisplayName
			changed = true
		}
		if changed {
			if err := s.store.Users().UpdateProfile(ctx, user.ID, in); err != nil {
				return nil, err
			}
			applyProfile(user, in)
			log.Debug("profile refreshed")
		}
		return user, nil

	case repository.IsNotFound(err):
		// 2b. Ausente: crear solo si el auto-provisioning está permitido
		if !autoProvision {
			log.Warn("unknown identity and auto provisioning disabled")
			return nil, ErrInvalidCredential
		}
		var roles []string
		if defaultRole = strings.TrimSpace(defaultRole); defaultRole != "" {
			roles = []string{defaultRole}
		}
		created, cerr := s.store.Users().Create(ctx, repository.CreateUserInput{
			TenantID:       tenantID,
			Email:          id.Email,
			GivenName:      id.GivenName,
			FamilyName:     id.FamilyName,
			DisplayName:    id.DisplayName,
			Status:         repository.UserStatusActive,
			EmailConfirmed: true, // el IdP ya verificó esta dirección
			Roles:          roles,
		})
		if cerr != nil {
			if repository.IsConflict(cerr) {
				// Carrera con otro login federado concurrente: releer.
				return s.store.Users().GetByEmail(ctx, tenantID, id.Email)
			}
			return nil, cerr
		}
		s.audit.Record(ctx, audit.Event{
			Name: "user.provisioned", TenantID: tenantID, UserID: created.ID,
			Email: id.Email, Provider: id.Provider, Success: true,
		})
		log.Info("user auto provisioned", logger.UserID(created.ID))
		return created, nil

	default:
		return nil, err
	}
}

func applyProfile(u *repository.User, in repository.UpdateProfileInput) {
	if in.GivenName != nil {
		u.GivenName = *in.GivenName
	}
	if in.FamilyName != nil {
		u.FamilyName = *in.FamilyName
	}
	if in.DisplayName != nil {
		u.DisplayName = *in.DisplayName
	}
}
