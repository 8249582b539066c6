package repository

import (
	"context"
	"time"
)

// UserStatus es el estado de la cuenta.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// User representa un usuario del sistema.
type User struct {
	ID             string
	TenantID       string
	Email          string // siempre en minúsculas
	EmailConfirmed bool
	GivenName      string
	FamilyName     string
	DisplayName    string
	Status         UserStatus

	// PasswordHash es nil para cuentas puramente federadas (SAML/OAuth/LDAP).
	PasswordHash *string

	// Estado MFA.
	MFAEnabled   bool
	MFAEnabledAt *time.Time

	// Estado de lockout. LockoutUntil en el futuro == cuenta bloqueada.
	FailedAttempts int
	LockoutUntil   *time.Time

	Roles []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockedOut indica si la cuenta está bloqueada en el instante dado.
func (u *User) LockedOut(now time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

// PasswordHistoryEntry guarda un hash anterior del password de un usuario.
// Se retiene una ventana acotada (las N más recientes) para impedir reuso.
type PasswordHistoryEntry struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUserInput contiene los datos para crear un usuario.
type CreateUserInput struct {
	TenantID       string
	Email          string
	PasswordHash   *string
	GivenName      string
	FamilyName     string
	DisplayName    string
	Status         UserStatus
	EmailConfirmed bool
	Roles          []string
}

// UpdateProfileInput contiene los campos de perfil actualizables.
// Los punteros nil se dejan sin tocar.
type UpdateProfileInput struct {
	GivenName   *string
	FamilyName  *string
	DisplayName *string
}

// LockoutResult es el resultado del registro atómico de un intento fallido.
type LockoutResult struct {
	FailedAttempts int
	LockoutUntil   *time.Time
}

// UserRepository define operaciones sobre usuarios.
type UserRepository interface {
	// GetByEmail busca un usuario por email (case-insensitive) dentro de un tenant.
	// Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, tenantID, email string) (*User, error)

	// GetByID busca un usuario por ID.
	// Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, userID string) (*User, error)

	// Create crea un nuevo usuario.
	// Retorna ErrConflict si el email ya existe en el tenant.
	Create(ctx context.Context, input CreateUserInput) (*User, error)

	// UpdateProfile actualiza campos de perfil de un usuario.
	UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) error

	// UpdatePasswordHash reemplaza el hash del password.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// RegisterFailedAttempt incrementa el contador de intentos fallidos y, si
	// alcanza maxAttempts, fija lockout_until = now + lockoutFor. Incremento y
	// lectura son un único read-modify-write contra el store: dos logins
	// concurrentes nunca pierden un incremento.
	RegisterFailedAttempt(ctx context.Context, userID string, maxAttempts int, lockoutFor time.Duration) (LockoutResult, error)

	// ResetLockout pone el contador en cero y limpia lockout_until.
	ResetLockout(ctx context.Context, userID string) error

	// SetMFAEnabled fija el estado MFA del usuario (con timestamp al habilitar).
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error

	// ─── Password history ───

	// AddPasswordHistory agrega el hash anterior al historial y poda las
	// entradas que exceden la ventana keepLast.
	AddPasswordHistory(ctx context.Context, userID, hash string, keepLast int) error

	// ListPasswordHistory retorna las últimas n entradas, más reciente primero.
	ListPasswordHistory(ctx context.Context, userID string, n int) ([]PasswordHistoryEntry, error)
}
