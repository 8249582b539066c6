package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/dropDatabas3/portero/internal/domain/repository"
	"github.com/dropDatabas3/portero/internal/observability/logger"
)

// ValidationResult es el veredicto estructural + de conectividad sobre una
// configuración. Warnings no impiden operar; Errors sí.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateStructure revisa la configuración sin tocar la red.
func ValidateStructure(cfg *repository.LDAPConfiguration) *ValidationResult {
	res := &ValidationResult{}
	if cfg == nil {
		res.addError("configuration is nil")
		return res
	}
	if strings.TrimSpace(cfg.Host) == "" {
		res.addError("host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		res.addError("port must be between 1 and 65535")
	}
	if strings.TrimSpace(cfg.BaseDN) == "" {
		res.addError("base dn is required")
	} else if _, err := goldap.ParseDN(cfg.BaseDN); err != nil {
		res.addError("base dn does not parse: %v", err)
	}
	if strings.TrimSpace(cfg.BindDN) != "" {
		if _, err := goldap.ParseDN(cfg.BindDN); err != nil {
			res.addError("bind dn does not parse: %v", err)
		}
	}
	if !strings.Contains(cfg.UserSearchFilter, "{0}") {
		res.addError("user search filter must contain the {0} placeholder")
	}
	if cfg.ConnectTimeout <= 0 {
		res.addError("connect timeout is required")
	}
	if cfg.SearchTimeout <= 0 {
		res.addError("search timeout is required")
	}
	if cfg.MaxResults < 0 {
		res.addError("max results cannot be negative")
	}
	if cfg.UseSSL && cfg.UseStartTLS {
		res.addWarning("both ssl and starttls enabled; ssl takes precedence")
	}
	if cfg.AutoProvisionUsers && strings.TrimSpace(cfg.DefaultRole) == "" {
		res.addWarning("auto provisioning enabled without a default role")
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// TestConnection valida estructura y luego prueba bind de servicio y una
// búsqueda mínima sobre el base DN. El resultado se persiste vía repo si se
// pasa uno (puede ser nil para un dry run).
func (g *Gateway) TestConnection(ctx context.Context, cfg *repository.LDAPConfiguration, repo repository.LDAPConfigRepository) (*ValidationResult, error) {
	log := logger.From(ctx).With(logger.Layer("gateway"), logger.Component("ldap"), logger.Op("TestConnection"))

	res := ValidateStructure(cfg)
	if !res.Valid {
		return g.persist(ctx, repo, cfg, res)
	}

	conn, err := g.bindService(ctx, cfg)
	if err != nil {
		res.Valid = false
		res.addError("service bind failed: %v", err)
		return g.persist(ctx, repo, cfg, res)
	}
	defer conn.Close()

	// Probe mínimo: leer el base DN. Confirma que existe y que la cuenta de
	// servicio tiene permiso de lectura.
	req := goldap.NewSearchRequest(
		cfg.BaseDN,
		goldap.ScopeBaseObject, goldap.NeverDerefAliases,
		1, int(cfg.SearchTimeout.Seconds()), false,
		"(objectClass=*)",
		[]string{"dn"},
		nil,
	)
	if _, err := conn.Search(req); err != nil {
		res.Valid = false
		res.addError("base dn probe failed: %v", err)
		return g.persist(ctx, repo, cfg, res)
	}

	log.Info("directory connection validated", logger.String("host", cfg.Host))
	return g.persist(ctx, repo, cfg, res)
}

func (g *Gateway) persist(ctx context.Context, repo repository.LDAPConfigRepository, cfg *repository.LDAPConfiguration, res *ValidationResult) (*ValidationResult, error) {
	if repo == nil || cfg == nil || cfg.ID == "" {
		return res, nil
	}
	verr := strings.Join(res.Errors, "; ")
	if err := repo.SetValidation(ctx, cfg.ID, res.Valid, verr, time.Now().UTC()); err != nil {
		return res, fmt.Errorf("persist validation: %w", err)
	}
	return res, nil
}
