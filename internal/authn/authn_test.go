package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestDisabledAlwaysYieldsSyntheticPrincipal(t *testing.T) {
	v := New(false, "")
	p, err := v.Verify("")
	require.NoError(t, err)
	assert.Equal(t, Principal("anonymous"), p)

	p, err = v.Verify("garbage")
	require.NoError(t, err)
	assert.Equal(t, Principal("anonymous"), p)
}

func TestEnforcedAcceptsValidToken(t *testing.T) {
	v := New(true, "s3cret")
	tok := signToken(t, "s3cret", "user-1")

	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal("user-1"), p)
}

func TestEnforcedRejectsMissingToken(t *testing.T) {
	v := New(true, "s3cret")
	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEnforcedRejectsWrongSecret(t *testing.T) {
	v := New(true, "s3cret")
	tok := signToken(t, "other-secret", "user-1")

	_, err := v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEnforcedRejectsMalformedToken(t *testing.T) {
	v := New(true, "s3cret")
	_, err := v.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalid)
}
