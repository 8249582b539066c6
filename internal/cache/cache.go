// Package cache provee un key-value efímero con TTL para estado transitorio
// de autenticación: challenges MFA pendientes, tokens de reset de password y
// state/nonce de flujos SSO.
//
// Backends:
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para producción)
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL opcional. Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// GetDel obtiene y elimina atómicamente. Retorna ErrNotFound si no existe.
	// Un token de un solo uso (reset, state SSO) se consume con GetDel para que
	// dos requests concurrentes no puedan canjearlo ambos.
	GetDel(ctx context.Context, key string) (string, error)

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// ErrNotFound indica que la key no existe o expiró.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
