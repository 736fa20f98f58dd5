// ABOUTME: Tests for JWT verification and identity claims
// ABOUTME: Covers round-trip, expiry, wrong secret, and claim validation

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))

	token, err := verifier.Generate(Identity{
		Kind:      KindAgent,
		Subject:   "agent-1",
		CompanyID: "acme",
	}, time.Hour)
	require.NoError(t, err)

	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, KindAgent, identity.Kind)
	assert.Equal(t, "agent-1", identity.Subject)
	assert.Equal(t, "acme", identity.CompanyID)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))

	token, err := verifier.Generate(Identity{Kind: KindUser, Subject: "u-1", CompanyID: "acme"}, -time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	signer := NewJWTVerifier([]byte("secret-a"))
	verifier := NewJWTVerifier([]byte("secret-b"))

	token, err := signer.Generate(Identity{Kind: KindAgent, Subject: "agent-1", CompanyID: "acme"}, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_Garbage(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	_, err := verifier.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func signRaw(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier_MissingClaims(t *testing.T) {
	secret := []byte("test-secret")
	verifier := NewJWTVerifier(secret)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing sub", jwt.MapClaims{"kind": "agent", "company_id": "acme", "exp": exp}},
		{"missing kind", jwt.MapClaims{"sub": "agent-1", "company_id": "acme", "exp": exp}},
		{"missing company_id", jwt.MapClaims{"sub": "agent-1", "kind": "agent", "exp": exp}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(signRaw(t, secret, tt.claims))
			assert.ErrorIs(t, err, ErrMissingClaim)
		})
	}
}

func TestJWTVerifier_UnknownKind(t *testing.T) {
	secret := []byte("test-secret")
	verifier := NewJWTVerifier(secret)

	token := signRaw(t, secret, jwt.MapClaims{
		"sub":        "x-1",
		"kind":       "superuser",
		"company_id": "acme",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
