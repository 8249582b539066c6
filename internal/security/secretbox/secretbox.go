// Package secretbox cifra secretos en reposo (bind passwords LDAP, secretos
// TOTP, client secrets OAuth) con AES-256-GCM.
//
// La clave maestra se inyecta en el constructor: el ciclo de vida lo controla
// el caller, no un global del paquete.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

var (
	// ErrBadKey indica que la clave maestra falta o tiene largo inválido.
	ErrBadKey = errors.New("secretbox: master key must be 32 bytes")

	// ErrMalformed indica un ciphertext con formato inválido.
	ErrMalformed = errors.New("secretbox: malformed ciphertext")
)

// Box cifra y descifra con una clave maestra fija.
type Box struct {
	aead cipher.AEAD
}

// New crea un Box con una clave de 32 bytes.
func New(key []byte) (*Box, error) {
	if len(key) != requiredKeyLength {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// NewFromBase64 crea un Box desde una clave en base64
// (generar con: openssl rand -base64 32).
func NewFromBase64(keyB64 string) (*Box, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode key: %w", err)
	}
	return New(k)
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Encrypt(plainText string) (string, error) {
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	ct := b.aead.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt descifra un valor producido por Encrypt.
func (b *Box) Decrypt(cipherText string) (string, error) {
	parts := strings.SplitN(cipherText, sep, 2)
	if len(parts) != 2 {
		return "", ErrMalformed
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSizeGCM {
		return "", ErrMalformed
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformed
	}
	pt, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: %w", err)
	}
	return string(pt), nil
}
