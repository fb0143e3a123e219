package privacy

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return strings.Repeat("k", 32)
}

func TestCipher_RoundTrip(t *testing.T) {
	t.Run("Should encrypt and decrypt a flag map with the same key", func(t *testing.T) {
		c, err := NewCipher(testKey())
		require.NoError(t, err)

		flags := map[string]bool{"ssn": true, "email": false}
		env, err := c.Encrypt(flags)
		require.NoError(t, err)
		require.NotNil(t, env)
		assert.Equal(t, EnvelopeVersion, env.Version)

		iv, err := base64.StdEncoding.DecodeString(env.IV)
		require.NoError(t, err)
		assert.Len(t, iv, 12)
		tag, err := base64.StdEncoding.DecodeString(env.Tag)
		require.NoError(t, err)
		assert.Len(t, tag, 16)

		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, flags, got)
	})

	t.Run("Should fail decryption with a different key", func(t *testing.T) {
		c1, err := NewCipher(testKey())
		require.NoError(t, err)
		c2, err := NewCipher(strings.Repeat("x", 32))
		require.NoError(t, err)

		env, err := c1.Encrypt(map[string]bool{"phone": true})
		require.NoError(t, err)

		_, err = c2.Decrypt(env)
		assert.Error(t, err)
	})

	t.Run("Should accept base64-encoded keys", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte(testKey()))
		c, err := NewCipher(encoded)
		require.NoError(t, err)

		env, err := c.Encrypt(map[string]bool{"address": true})
		require.NoError(t, err)
		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.True(t, got["address"])
	})

	t.Run("Should reject keys of the wrong length", func(t *testing.T) {
		_, err := NewCipher("short")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("Should reject tampered ciphertext", func(t *testing.T) {
		c, err := NewCipher(testKey())
		require.NoError(t, err)
		env, err := c.Encrypt(map[string]bool{"ssn": true})
		require.NoError(t, err)

		env.Data = base64.StdEncoding.EncodeToString([]byte("tampered-bytes"))
		_, err = c.Decrypt(env)
		assert.Error(t, err)
	})
}

func TestSanitizeFlags(t *testing.T) {
	t.Run("Should trim names and drop empties", func(t *testing.T) {
		got := SanitizeFlags(map[string]bool{" ssn ": true, "  ": true, "email": false})
		assert.Equal(t, map[string]bool{"ssn": true, "email": false}, got)
	})

	t.Run("Should keep nil as nil", func(t *testing.T) {
		assert.Nil(t, SanitizeFlags(nil))
	})

	t.Run("Should collapse all-empty maps to nil", func(t *testing.T) {
		assert.Nil(t, SanitizeFlags(map[string]bool{"  ": true}))
	})
}

func TestAnyRaised(t *testing.T) {
	t.Run("Should detect raised flags", func(t *testing.T) {
		assert.True(t, AnyRaised(map[string]bool{"a": false, "b": true}))
		assert.False(t, AnyRaised(map[string]bool{"a": false}))
		assert.False(t, AnyRaised(nil))
	})
}
