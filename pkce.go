package easyauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// AuthorizationOptions are the host supplied parts of an authorization request.
type AuthorizationOptions struct {
	ClientID    string
	RedirectURI string
	Scope       []string
}

// AuthorizationRequest is the output of BuildAuthorizationURL. State and
// Verifier must be kept server side until the callback.
type AuthorizationRequest struct {
	URL      string
	State    string
	Verifier string
}

// GenerateState returns 32 random bytes as hex.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GeneratePKCE returns a code verifier (43 random bytes, base64url) and its
// S256 challenge.
func GeneratePKCE() (verifier, challenge string, err error) {
	b := make([]byte, 43)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	return verifier, PKCEChallenge(verifier), nil
}

// PKCEChallenge is base64url(SHA-256(verifier)) without padding.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BuildAuthorizationURL builds the provider redirect with a fresh state and
// PKCE pair. Provider AuthorizationParams are applied first so the standard
// parameters always win.
func BuildAuthorizationURL(provider *Provider, opts AuthorizationOptions) (*AuthorizationRequest, error) {
	if provider == nil || provider.AuthorizationURL == "" {
		return nil, NewError(KindInvalidArgument, "BuildAuthorizationURL", "provider has no authorization url", nil)
	}
	if opts.ClientID == "" || opts.RedirectURI == "" {
		return nil, NewError(KindInvalidArgument, "BuildAuthorizationURL", "client id and redirect uri required", nil)
	}
	base, err := url.Parse(provider.AuthorizationURL)
	if err != nil {
		return nil, NewError(KindInvalidArgument, "BuildAuthorizationURL", "bad authorization url", err)
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	q := base.Query()
	for k, v := range provider.AuthorizationParams {
		q.Set(k, v)
	}
	q.Set("client_id", opts.ClientID)
	q.Set("redirect_uri", opts.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	if len(opts.Scope) > 0 {
		q.Set("scope", strings.Join(opts.Scope, " "))
	}
	base.RawQuery = q.Encode()

	return &AuthorizationRequest{URL: base.String(), State: state, Verifier: verifier}, nil
}
