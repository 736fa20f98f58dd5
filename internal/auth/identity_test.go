// ABOUTME: Tests for request authentication and room authorization
// ABOUTME: Covers token extraction sources, anonymous fallback, and company scoping

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_QueryToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate(Identity{Kind: KindAgent, Subject: "agent-1", CompanyID: "acme"}, time.Hour)
	require.NoError(t, err)

	authn := NewHTTPAuthenticator(verifier)
	req := httptest.NewRequest("GET", "/ws/agent?token="+token, nil)

	identity, err := authn.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", identity.Subject)
}

func TestAuthenticate_AuthorizationHeader(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate(Identity{Kind: KindUser, Subject: "u-1", CompanyID: "acme"}, time.Hour)
	require.NoError(t, err)

	authn := NewHTTPAuthenticator(verifier)
	req := httptest.NewRequest("GET", "/ws/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	identity, err := authn.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, KindUser, identity.Kind)
}

func TestAuthenticate_NoTokenIsAnonymous(t *testing.T) {
	authn := NewHTTPAuthenticator(NewJWTVerifier([]byte("test-secret")))
	req := httptest.NewRequest("GET", "/ws/user", nil)

	identity, err := authn.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, identity.Anonymous())
}

func TestAuthenticate_InvalidTokenIsError(t *testing.T) {
	authn := NewHTTPAuthenticator(NewJWTVerifier([]byte("test-secret")))
	req := httptest.NewRequest("GET", "/ws/user?token=garbage", nil)

	_, err := authn.Authenticate(req)
	assert.Error(t, err)
}

func TestCanJoinRoom(t *testing.T) {
	tests := []struct {
		name           string
		allowAnonymous bool
		identity       Identity
		companyID      string
		sessionID      string
		want           bool
	}{
		{"same company user", false, Identity{Kind: KindUser, Subject: "u-1", CompanyID: "acme"}, "acme", "sess-1", true},
		{"cross company rejected", false, Identity{Kind: KindUser, Subject: "u-1", CompanyID: "acme"}, "globex", "sess-1", false},
		{"anonymous rejected by default", false, Identity{Kind: KindAnonymous}, "acme", "sess-1", false},
		{"anonymous allowed when configured", true, Identity{Kind: KindAnonymous}, "acme", "sess-1", true},
		{"empty company rejected", true, Identity{Kind: KindAnonymous}, "", "sess-1", false},
		{"empty session rejected", true, Identity{Kind: KindAnonymous}, "acme", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authz := &CompanyAuthorizer{AllowAnonymous: tt.allowAnonymous}
			assert.Equal(t, tt.want, authz.CanJoinRoom(&tt.identity, tt.companyID, tt.sessionID))
		})
	}
}
