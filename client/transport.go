package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport over base. A nil base means
// http.DefaultTransport.
func NewAuthTransport(base http.RoundTripper, token string) *AuthTransport {
	return &AuthTransport{Base: base, Token: token}
}
