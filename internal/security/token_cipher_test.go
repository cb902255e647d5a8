package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-session-secret-32bytes-long!"

func TestTokenCipher_RoundTrip(t *testing.T) {
	c, err := NewTokenCipher(testSecret)
	require.NoError(t, err)

	plaintext := []byte(`{"access_token":"eyJhbGciOi","id_token":"eyJpZCI6"}`)
	sealed, err := c.Encrypt(plaintext, []byte("session-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "eyJhbGciOi")

	opened, err := c.Decrypt(sealed, []byte("session-1"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestTokenCipher_NonceIsRandom(t *testing.T) {
	c, err := NewTokenCipher(testSecret)
	require.NoError(t, err)

	a, err := c.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenCipher_WrongAdditionalData_Fails(t *testing.T) {
	c, err := NewTokenCipher(testSecret)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("token"), []byte("session-1"))
	require.NoError(t, err)

	_, err = c.Decrypt(sealed, []byte("session-2"))
	assert.Error(t, err)
}

func TestTokenCipher_DifferentSecret_Fails(t *testing.T) {
	c1, err := NewTokenCipher(testSecret)
	require.NoError(t, err)
	c2, err := NewTokenCipher("another-session-secret-32bytes-long")
	require.NoError(t, err)

	sealed, err := c1.Encrypt([]byte("token"), nil)
	require.NoError(t, err)

	_, err = c2.Decrypt(sealed, nil)
	assert.Error(t, err)
}

func TestTokenCipher_TamperedCiphertext_Fails(t *testing.T) {
	c, err := NewTokenCipher(testSecret)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("token"), nil)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = c.Decrypt(sealed, nil)
	assert.Error(t, err)
}

func TestTokenCipher_ShortCiphertext(t *testing.T) {
	c, err := NewTokenCipher(testSecret)
	require.NoError(t, err)

	_, err = c.Decrypt([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestNewTokenCipher_EmptySecret(t *testing.T) {
	_, err := NewTokenCipher("")
	assert.Error(t, err)
}
