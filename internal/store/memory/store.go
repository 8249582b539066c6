// Package memory implementa repository.Store en memoria, protegido por un
// mutex. Se usa en desarrollo y en tests; el backend de producción es pg.
package memory

import (
	"sync"

	"github.com/dropDatabas3/portero/internal/domain/repository"
)

// Store implementa repository.Store en memoria.
type Store struct {
	mu sync.Mutex

	users   map[string]*repository.User             // por ID
	history map[string][]repository.PasswordHistoryEntry // por user ID, más reciente primero
	secrets map[string]*repository.MFASecret        // por user ID
	backup  map[string][]*repository.BackupCode     // por user ID
	ldap    map[string]*repository.LDAPConfiguration // por tenant ID
	sso     map[string]*repository.SSOConfiguration  // por tenant ID + provider
}

// New crea un Store vacío.
func New() *Store {
	return &Store{
		users:   map[string]*repository.User{},
		history: map[string][]repository.PasswordHistoryEntry{},
		secrets: map[string]*repository.MFASecret{},
		backup:  map[string][]*repository.BackupCode{},
		ldap:    map[string]*repository.LDAPConfiguration{},
		sso:     map[string]*repository.SSOConfiguration{},
	}
}

func (s *Store) Users() repository.UserRepository           { return &userRepo{s} }
func (s *Store) MFA() repository.MFARepository              { return &mfaRepo{s} }
func (s *Store) LDAPConfigs() repository.LDAPConfigRepository { return &ldapRepo{s} }
func (s *Store) SSOConfigs() repository.SSOConfigRepository   { return &ssoRepo{s} }

func ssoKey(tenantID string, provider repository.SSOProvider) string {
	return tenantID + "/" + string(provider)
}
