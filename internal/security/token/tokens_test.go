package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=", "base64url sin padding")
}

func TestHMACSHA256Base64URLIsDeterministicPerKey(t *testing.T) {
	key := []byte("clave-por-usuario")
	assert.Equal(t, HMACSHA256Base64URL(key, "ABCD-1234"), HMACSHA256Base64URL(key, "ABCD-1234"))
	assert.NotEqual(t, HMACSHA256Base64URL(key, "ABCD-1234"), HMACSHA256Base64URL(key, "ABCD-1235"))
	assert.NotEqual(t, HMACSHA256Base64URL(key, "ABCD-1234"), HMACSHA256Base64URL([]byte("otra-clave"), "ABCD-1234"))
}

func TestSHA256Base64URL(t *testing.T) {
	assert.Len(t, SHA256Base64URL("x"), 43, "32 bytes => 43 chars base64url sin padding")
	assert.Equal(t, SHA256Base64URL("x"), SHA256Base64URL("x"))
}
