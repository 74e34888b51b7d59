package totp

import (
	"strings"
	"testing"
	"time"

	pqtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	secret, url, err := GenerateSecret("user@example.com")
	require.NoError(t, err)
	assert.Len(t, secret, 32)
	assert.True(t, strings.HasPrefix(url, "otpauth://totp/"))
	assert.Contains(t, url, "Epistola")
	assert.Contains(t, url, secret)
}

func TestVerifyAcceptsCurrentCode(t *testing.T) {
	secret, _, err := GenerateSecret("user@example.com")
	require.NoError(t, err)

	code, err := pqtotp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, Verify(code, secret))
}

func TestVerifyAcceptsOnePeriodSkew(t *testing.T) {
	secret, _, err := GenerateSecret("user@example.com")
	require.NoError(t, err)

	code, err := pqtotp.GenerateCode(secret, time.Now().UTC().Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, Verify(code, secret))
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	secret, _, err := GenerateSecret("user@example.com")
	require.NoError(t, err)

	code, err := pqtotp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	assert.False(t, Verify(wrong, secret))
	assert.False(t, Verify("", secret))
	assert.False(t, Verify(code, "not-a-secret"))
}
