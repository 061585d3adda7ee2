// Package oauth2 performs the network half of an OAuth login: exchanging the
// authorization code (with its PKCE verifier) and fetching the userinfo
// payload. The result is handed to easyauth.Auth.OAuthLogin.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"

	ea "github.com/panyam/easyauth"
)

// Client binds a Provider to the host's client credentials.
type Client struct {
	Provider     *ea.Provider
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Used for the token exchange and userinfo calls. Defaults to
	// http.DefaultClient. Can be overridden for testing.
	HTTPClient *http.Client
}

// NewClient fills empty credentials from OAUTH2_<PROVIDER>_CLIENT_ID,
// OAUTH2_<PROVIDER>_CLIENT_SECRET and OAUTH2_<PROVIDER>_CALLBACK_URL.
func NewClient(provider *ea.Provider, clientID, clientSecret, redirectURL string) *Client {
	prefix := "OAUTH2_" + strings.ToUpper(provider.ID) + "_"
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv(prefix + "CLIENT_SECRET"))
	}
	if redirectURL == "" {
		redirectURL = strings.TrimSpace(os.Getenv(prefix + "CALLBACK_URL"))
	}
	return &Client{
		Provider:     provider,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	}
}

// Config returns the x/oauth2 config for the provider.
func (c *Client) Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.Provider.AuthorizationURL,
			TokenURL: c.Provider.TokenURL,
		},
	}
}

// AuthorizationOptions returns the options for easyauth.BuildAuthorizationURL.
func (c *Client) AuthorizationOptions() ea.AuthorizationOptions {
	return ea.AuthorizationOptions{ClientID: c.ClientID, RedirectURI: c.RedirectURL}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())
}

// Exchange trades an authorization code for tokens, sending the PKCE verifier.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if code == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "oauth2.Exchange", "missing authorization code", nil)
	}
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := c.Config().Exchange(c.withHTTPClient(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("code exchange with %s failed: %w", c.Provider.ID, err)
	}
	return token, nil
}

// FetchUserinfo GETs the provider's userinfo endpoint with the access token.
// Numbers are decoded as json.Number so large ids keep every digit.
func (c *Client) FetchUserinfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	if c.Provider.Userinfo == nil || c.Provider.Userinfo.URL == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "oauth2.FetchUserinfo", "provider has no userinfo url", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Provider.Userinfo.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from %s: %w", c.Provider.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info from %s: unexpected status %d", c.Provider.ID, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	return raw, nil
}

// FetchProfile fetches and maps the userinfo payload.
func (c *Client) FetchProfile(ctx context.Context, token *oauth2.Token) (ea.Profile, error) {
	raw, err := c.FetchUserinfo(ctx, token)
	if err != nil {
		return ea.Profile{}, err
	}
	return c.Provider.MapUserinfo(raw)
}

// Tokens converts an x/oauth2 token into the form stored on an Account.
func Tokens(token *oauth2.Token) ea.OAuthTokens {
	out := ea.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

// Complete runs the callback half of a login: exchange, fetch, map and
// OAuthLoginWithTokens.
func (c *Client) Complete(ctx context.Context, auth *ea.Auth, code, verifier string) (*ea.User, *ea.Session, error) {
	token, err := c.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, nil, err
	}
	profile, err := c.FetchProfile(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return auth.OAuthLoginWithTokens(ctx, c.Provider.ID, profile, Tokens(token))
}
