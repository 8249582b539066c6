package jwt

import (
	"errors"
	"sync"
)

const minSecretLen = 32

var (
	// ErrSecretTooShort indica una clave de firma ausente o menor a 32 bytes.
	// Es un error de configuración: el issuer no arranca, no hay fallback.
	ErrSecretTooShort = errors.New("jwt: signing secret must be at least 32 bytes")

	// ErrUnknownKID indica que el token referencia una clave que no tenemos.
	ErrUnknownKID = errors.New("jwt: unknown kid")
)

// Keyring mantiene la clave de firma activa más las retiradas que siguen
// siendo válidas para verificación. Rotar una clave no invalida los tokens
// emitidos momentos antes dentro de su TTL: la clave vieja queda en el ring
// como "retirada" hasta que esos tokens expiren.
type Keyring struct {
	mu     sync.RWMutex
	active string
	keys   map[string][]byte // kid → secret
}

// NewKeyring crea un keyring con una única clave activa.
func NewKeyring(kid string, secret []byte) (*Keyring, error) {
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	return &Keyring{
		active: kid,
		keys:   map[string][]byte{kid: secret},
	}, nil
}

// Active retorna el kid y el secreto de la clave de firma actual.
func (k *Keyring) Active() (string, []byte) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active, k.keys[k.active]
}

// ByKID retorna el secreto para un kid (activa o retirada).
func (k *Keyring) ByKID(kid string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.keys[kid]
	if !ok {
		return nil, ErrUnknownKID
	}
	return s, nil
}

// Rotate agrega una clave nueva como activa. La anterior queda retirada y
// sigue verificando hasta que se la retire con Evict.
func (k *Keyring) Rotate(kid string, secret []byte) error {
	if len(secret) < minSecretLen {
		return ErrSecretTooShort
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[kid] = secret
	k.active = kid
	return nil
}

// Evict elimina una clave retirada del ring. Eliminar la activa es un no-op.
func (k *Keyring) Evict(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if kid != k.active {
		delete(k.keys, kid)
	}
}
