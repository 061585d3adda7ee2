package easyauth_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ea "github.com/panyam/easyauth"
)

func TestGenerateState(t *testing.T) {
	a, err := ea.GenerateState()
	require.NoError(t, err)
	b, err := ea.GenerateState()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGeneratePKCE(t *testing.T) {
	verifier, challenge, err := ea.GeneratePKCE()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(verifier)
	require.NoError(t, err)
	assert.Len(t, raw, 43)
	assert.GreaterOrEqual(t, len(verifier), 43)
	assert.LessOrEqual(t, len(verifier), 128)

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), challenge)
	assert.NotContains(t, challenge, "=")
}

func TestPKCEChallengeKnownValue(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", ea.PKCEChallenge(verifier))
}

func TestBuildAuthorizationURL(t *testing.T) {
	provider := &ea.Provider{
		ID:                  "google",
		AuthorizationURL:    "https://accounts.example.com/o/oauth2/auth?existing=1",
		AuthorizationParams: map[string]string{"access_type": "offline", "prompt": "consent", "state": "ignored"},
	}
	req, err := ea.BuildAuthorizationURL(provider, ea.AuthorizationOptions{
		ClientID:    "client-123",
		RedirectURI: "https://app.example.com/cb",
		Scope:       []string{"openid", "email"},
	})
	require.NoError(t, err)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", u.Host)
	assert.Equal(t, "/o/oauth2/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "1", q.Get("existing"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Equal(t, req.State, q.Get("state"), "generated state overrides provider params")
	assert.Equal(t, ea.PKCEChallenge(req.Verifier), q.Get("code_challenge"))
	assert.NotContains(t, req.URL, req.Verifier)
}

func TestBuildAuthorizationURLWithoutScope(t *testing.T) {
	req, err := ea.BuildAuthorizationURL(&ea.Provider{AuthorizationURL: "https://example.com/auth"},
		ea.AuthorizationOptions{ClientID: "c", RedirectURI: "https://app/cb"})
	require.NoError(t, err)
	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	_, hasScope := u.Query()["scope"]
	assert.False(t, hasScope)
}

func TestBuildAuthorizationURLRequiresInputs(t *testing.T) {
	opts := ea.AuthorizationOptions{ClientID: "c", RedirectURI: "https://app/cb"}
	_, err := ea.BuildAuthorizationURL(nil, opts)
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
	_, err = ea.BuildAuthorizationURL(&ea.Provider{}, opts)
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
	_, err = ea.BuildAuthorizationURL(&ea.Provider{AuthorizationURL: "https://example.com"}, ea.AuthorizationOptions{})
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
}
