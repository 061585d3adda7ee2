package oauth2_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/oauth2"
	"github.com/panyam/easyauth/providers"
	"github.com/panyam/easyauth/stores/memory"
)

// mockOAuthServer is a fake provider with /token and /userinfo endpoints.
type mockOAuthServer struct {
	server *httptest.Server

	tokenResponse    map[string]any
	userInfoResponse string
	tokenError       bool
	userInfoError    bool

	gotVerifier string
	gotBearer   string
}

func newMockOAuthServer(t *testing.T) *mockOAuthServer {
	mock := &mockOAuthServer{
		tokenResponse: map[string]any{
			"access_token":  "mock_access_token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "mock_refresh_token",
			"scope":         "read:user user:email",
		},
		userInfoResponse: `{"id": 9007199254740993, "email": "testuser@example.com", "name": "Test User"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		mock.gotVerifier = r.PostForm.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.tokenResponse)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		mock.gotBearer = r.Header.Get("Authorization")
		if mock.userInfoError {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, mock.userInfoResponse)
	})

	mock.server = httptest.NewServer(mux)
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockOAuthServer) client() *oauth2.Client {
	p := providers.GitHub()
	p.TokenURL = m.server.URL + "/token"
	p.Userinfo.URL = m.server.URL + "/userinfo"
	c := oauth2.NewClient(p, "client-id", "client-secret", "http://localhost/callback")
	c.HTTPClient = m.server.Client()
	return c
}

func TestNewClientReadsEnvironment(t *testing.T) {
	t.Setenv("OAUTH2_DISCORD_CLIENT_ID", " env-id ")
	t.Setenv("OAUTH2_DISCORD_CLIENT_SECRET", "env-secret")
	t.Setenv("OAUTH2_DISCORD_CALLBACK_URL", "http://localhost/cb")

	c := oauth2.NewClient(providers.Discord(), "", "", "")
	assert.Equal(t, "env-id", c.ClientID)
	assert.Equal(t, "env-secret", c.ClientSecret)
	assert.Equal(t, "http://localhost/cb", c.RedirectURL)

	explicit := oauth2.NewClient(providers.Discord(), "id", "", "")
	assert.Equal(t, "id", explicit.ClientID)
}

func TestExchangeSendsVerifier(t *testing.T) {
	mock := newMockOAuthServer(t)
	token, err := mock.client().Exchange(context.Background(), "the-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, "mock_access_token", token.AccessToken)
	assert.Equal(t, "mock_refresh_token", token.RefreshToken)
	assert.Equal(t, "the-verifier", mock.gotVerifier)
}

func TestExchangeErrors(t *testing.T) {
	mock := newMockOAuthServer(t)
	_, err := mock.client().Exchange(context.Background(), "", "v")
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)

	mock.tokenError = true
	_, err = mock.client().Exchange(context.Background(), "code", "v")
	assert.Error(t, err)
}

func TestFetchProfileKeepsLargeIDs(t *testing.T) {
	mock := newMockOAuthServer(t)
	profile, err := mock.client().FetchProfile(context.Background(), &oauth2lib.Token{AccessToken: "at"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer at", mock.gotBearer)
	assert.Equal(t, "9007199254740993", profile.ID)
	assert.Equal(t, "testuser@example.com", profile.Email)
}

func TestFetchProfileErrors(t *testing.T) {
	mock := newMockOAuthServer(t)
	mock.userInfoError = true
	_, err := mock.client().FetchProfile(context.Background(), &oauth2lib.Token{AccessToken: "at"})
	assert.Error(t, err)

	mock.userInfoError = false
	mock.userInfoResponse = `{"email": "no-id@example.com"}`
	_, err = mock.client().FetchProfile(context.Background(), &oauth2lib.Token{AccessToken: "at"})
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)

	c := mock.client()
	c.Provider.Userinfo = nil
	_, err = c.FetchProfile(context.Background(), &oauth2lib.Token{AccessToken: "at"})
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
}

func TestTokens(t *testing.T) {
	tok := (&oauth2lib.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}).
		WithExtra(map[string]any{"scope": "email"})
	got := oauth2.Tokens(tok)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
	assert.Equal(t, "email", got.Scope)
}

func TestCompleteLogsInAndStoresTokens(t *testing.T) {
	mock := newMockOAuthServer(t)
	store := memory.New()
	auth := ea.New(store)
	auth.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	user, session, err := mock.client().Complete(context.Background(), auth, "code", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "testuser@example.com", user.Email)
	assert.Equal(t, user.ID, session.UserID)

	account, err := store.GetAccountByProvider(context.Background(), "github", "9007199254740993")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "mock_refresh_token", account.RefreshToken)
	assert.Equal(t, "read:user user:email", account.Scope)
	assert.NotZero(t, account.ExpiresAt)
}
