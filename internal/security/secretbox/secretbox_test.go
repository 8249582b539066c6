package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	for _, plain := range []string{"", "hola", "JBSWY3DPEHPK3PXP", strings.Repeat("x", 4096)} {
		ct, err := box.Encrypt(plain)
		require.NoError(t, err)

		got, err := box.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	a, err := box.Encrypt("mismo secreto")
	require.NoError(t, err)
	b, err := box.Encrypt("mismo secreto")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	ct, err := box.Encrypt("secreto TOTP")
	require.NoError(t, err)

	parts := strings.SplitN(ct, "|", 2)
	require.Len(t, parts, 2)
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	raw[0] ^= 0xff
	tampered := parts[0] + "|" + base64.StdEncoding.EncodeToString(raw)

	_, err = box.Decrypt(tampered)
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)
	other, err := New([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	ct, err := box.Encrypt("secreto")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	assert.Error(t, err)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	for _, ct := range []string{"", "sin-separador", "!!!|AAAA", "AAAA|!!!", "AAAA|AAAA"} {
		_, err := box.Decrypt(ct)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", ct)
	}
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("corta"))
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestNewFromBase64(t *testing.T) {
	box, err := NewFromBase64(base64.StdEncoding.EncodeToString(testKey))
	require.NoError(t, err)
	require.NotNil(t, box)

	_, err = NewFromBase64("no es base64 %%%")
	assert.Error(t, err)

	_, err = NewFromBase64(base64.StdEncoding.EncodeToString([]byte("corta")))
	assert.ErrorIs(t, err, ErrBadKey)
}
