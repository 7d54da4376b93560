package secret_test

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fls-grading/portal/internal/secret"
)

func TestRandomHex(t *testing.T) {
	a, err := secret.RandomHex(8)
	require.NoError(t, err)
	b, err := secret.RandomHex(8)
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}

func TestRandomURLSafe(t *testing.T) {
	s, err := secret.RandomURLSafe(32)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.NotContains(t, s, "=")
}

func TestDigest(t *testing.T) {
	assert.Equal(t, secret.Digest("token"), secret.Digest("token"))
	assert.NotEqual(t, secret.Digest("token"), secret.Digest("token2"))
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		secret.Digest(""))
}
