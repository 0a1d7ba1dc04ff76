// ABOUTME: Tests for JWT token generation and verification
// ABOUTME: Covers expiry, tampering, and missing claim handling

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTVerifierRejectsEmptySecret(t *testing.T) {
	_, err := NewJWTVerifier(nil)
	assert.Error(t, err)
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	token, err := v.Generate("user-42", time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestVerifyExpiredToken(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	token, err := v.Generate("user-42", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	signer, err := NewJWTVerifier([]byte("secret-a"))
	require.NoError(t, err)
	verifier, err := NewJWTVerifier([]byte("secret-b"))
	require.NoError(t, err)

	token, err := signer.Generate("user-42", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubClaim(t *testing.T) {
	secret := []byte("test-secret")
	v, err := NewJWTVerifier(secret)
	require.NoError(t, err)

	// Token signed with the right secret but without a sub claim
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}
