package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/identity"
	"github.com/dropDatabas3/portero/internal/observability/logger"
)

// syncWorkers acota los upserts concurrentes contra el store.
const syncWorkers = 4

// SyncStats resume una corrida de sincronización.
type SyncStats struct {
	Found   int
	Created int
	Updated int
	Skipped int
}

// SearchUsers enumera las entradas del directorio que matchean el filtro con
// {0} sustituido por "*". El resultado queda acotado por MaxResults (0 = sin
// límite del lado cliente; el servidor puede imponer el suyo).
func (g *Gateway) SearchUsers(ctx context.Context, cfg *repository.LDAPConfiguration) ([]identity.Normalized, error) {
	if err := requireUsable(cfg); err != nil {
		return nil, err
	}
	conn, err := g.bindService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := strings.ReplaceAll(cfg.UserSearchFilter, "{0}", "*")
	req := goldap.NewSearchRequest(
		cfg.BaseDN,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		cfg.MaxResults,
		int(cfg.SearchTimeout.Seconds()),
		false,
		filter,
		searchAttributes(cfg),
		nil,
	)
	res, err := conn.Search(req)
	if err != nil && !goldap.IsErrorWithCode(err, goldap.LDAPResultSizeLimitExceeded) {
		if isNetworkErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return nil, fmt.Errorf("%w: search: %v", ErrConfigInvalid, err)
	}

	out := make([]identity.Normalized, 0, len(res.Entries))
	for _, e := range res.Entries {
		id := mapEntry(cfg, e)
		if id.Normalize() {
			out = append(out, *id)
		}
	}
	return out, nil
}

// SynchronizeUsers trae las entradas del directorio y las refleja en el store
// del tenant: crea las que faltan (solo si AutoProvisionUsers) y refresca
// nombres de las existentes, emparejando por email. Nunca borra ni degrada.
func (g *Gateway) SynchronizeUsers(ctx context.Context, cfg *repository.LDAPConfiguration, store repository.Store) (*SyncStats, error) {
	log := logger.From(ctx).With(logger.Layer("gateway"), logger.Component("ldap"), logger.Op("SynchronizeUsers"), logger.TenantID(cfg.TenantID))

	ids, err := g.SearchUsers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stats := &SyncStats{Found: len(ids)}
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(syncWorkers)

	results := make([]byte, len(ids)) // 'c' creado, 'u' actualizado, 's' salteado
	for i := range ids {
		i := i
		grp.Go(func() error {
			r, err := g.syncOne(gctx, cfg, store.Users(), &ids[i])
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		switch r {
		case 'c':
			stats.Created++
		case 'u':
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	if cfg.ID != "" {
		if err := store.LDAPConfigs().TouchSynced(ctx, cfg.ID, time.Now().UTC()); err != nil {
			log.Warn("could not record sync timestamp", logger.Err(err))
		}
	}
	log.Info("directory sync done",
		logger.Int("found", stats.Found),
		logger.Int("created", stats.Created),
		logger.Int("updated", stats.Updated),
		logger.Int("skipped", stats.Skipped))
	return stats, nil
}

func (g *Gateway) syncOne(ctx context.Context, cfg *repository.LDAPConfiguration, users repository.UserRepository, id *identity.Normalized) (byte, error) {
	existing, err := users.GetByEmail(ctx, cfg.TenantID, id.Email)
	switch {
	case err == nil:
		// Refrescar nombres si cambiaron. Roles y status no se tocan.
		in := repository.UpdateProfileInput{}
		changed := false
		if id.GivenName != "" && id.GivenName != existing.GivenName {
			in.GivenName = &id.GivenName
			changed = true
		}
		if id.FamilyName != "" && id.FamilyName != existing.FamilyName {
			in.FamilyName = &id.FamilyName
			changed = true
		}
		if id.DisplayName != "" && id.DisplayName != existing.DisplayName {
			in.DisplayName = &id.DisplayName
			changed = true
		}
		if !changed {
			return 's', nil
		}
		if err := users.UpdateProfile(ctx, existing.ID, in); err != nil {
			return 0, fmt.Errorf("update %s: %w", id.Email, err)
		}
		return 'u', nil

	case repository.IsNotFound(err):
		if !cfg.AutoProvisionUsers {
			return 's', nil
		}
		roles := rolesFor(cfg, id.Groups)
		_, err := users.Create(ctx, repository.CreateUserInput{
			TenantID:       cfg.TenantID,
			Email:          id.Email,
			GivenName:      id.GivenName,
			FamilyName:     id.FamilyName,
			DisplayName:    id.DisplayName,
			Status:         repository.UserStatusActive,
			EmailConfirmed: true, // el directorio es la fuente de verdad
			Roles:          roles,
		})
		if err != nil {
			if repository.IsConflict(err) {
				// Otro worker (u otra réplica) lo creó entre el GetByEmail y acá.
				return 's', nil
			}
			return 0, fmt.Errorf("create %s: %w", id.Email, err)
		}
		return 'c', nil

	default:
		return 0, fmt.Errorf("lookup %s: %w", id.Email, err)
	}
}

// rolesFor resuelve los roles de un usuario de directorio: los mapeos de
// grupo que apliquen, o el rol por defecto si no matchea ninguno.
func rolesFor(cfg *repository.LDAPConfiguration, groups []string) []string {
	var roles []string
	seen := map[string]bool{}
	for _, grp := range groups {
		if role, ok := cfg.GroupRoleMappings[grp]; ok && role != "" && !seen[role] {
			roles = append(roles, role)
			seen[role] = true
		}
	}
	if len(roles) == 0 && cfg.DefaultRole != "" {
		roles = append(roles, cfg.DefaultRole)
	}
	return roles
}
