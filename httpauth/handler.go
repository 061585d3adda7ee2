// Package httpauth mounts the easyauth flows on a gorilla/mux router.
//
// Routes (relative to wherever the Handler is mounted):
//
//	POST /signup                      register and log in
//	POST /login                       email + password login
//	POST /logout                      end the current session
//	GET  /me                          the current user
//	GET  /oauth/{provider}            redirect to the provider
//	GET  /oauth/{provider}/callback   finish an OAuth login
//	POST /password/forgot             send a reset link
//	GET  /password/reset              landing page for emailed reset links
//	POST /password/reset              redeem a reset token
//	GET  /verify-email                redeem an email verification token
//
// The session token travels in a cookie or an "Authorization: Bearer" header.
// With the database strategy the token is the session id; with the jwt
// strategy it is a jwtsession token. OAuth state and PKCE verifiers are kept
// server side in an scs session.
package httpauth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/jwtsession"
	"github.com/panyam/easyauth/oauth2"
)

type Handler struct {
	Auth *ea.Auth

	// Holds OAuth state between the redirect and the callback
	Session *scs.SessionManager

	Cookie ea.CookieConfig

	// When set, session tokens are JWTs instead of session ids
	JWT *jwtsession.Codec

	// Where a finished OAuth login is redirected to when the start request
	// carried no return_to. Defaults to "/".
	DefaultRedirectURL string

	// When set, GET /password/reset redirects here with the email and token
	// instead of serving the built-in form.
	ResetPageURL string

	Logger *slog.Logger

	clients map[string]*oauth2.Client
	router  *mux.Router
}

// New builds a Handler from config. A nil sessions manager gets an scs
// manager with the in-memory store.
func New(auth *ea.Auth, sessions *scs.SessionManager, cfg *ea.Config) *Handler {
	if sessions == nil {
		sessions = scs.New()
		sessions.Lifetime = 10 * time.Minute
		sessions.Cookie.Name = "easyauth_oauth"
		sessions.Cookie.Secure = cfg.Cookie.Secure
		sessions.Cookie.SameSite = http.SameSiteLaxMode
	}
	h := &Handler{
		Auth:    auth,
		Session: sessions,
		Cookie:  cfg.Cookie,
		clients: map[string]*oauth2.Client{},
	}
	if cfg.Session.Strategy == ea.SessionStrategyJWT {
		h.JWT = jwtsession.NewCodec(cfg.JWT)
		h.JWT.Clock = auth.Clock
	}
	return h
}

// AddProvider enables /oauth/{id} for the client's provider.
func (h *Handler) AddProvider(client *oauth2.Client) *Handler {
	h.clients[client.Provider.ID] = client
	return h
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Router returns the routes. Mount it under a prefix with
// parent.PathPrefix("/auth").Handler(http.StripPrefix("/auth", h)).
func (h *Handler) Router() *mux.Router {
	if h.router != nil {
		return h.router
	}
	r := mux.NewRouter()
	r.Use(h.clientIP)
	r.HandleFunc("/signup", h.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	r.Handle("/me", h.RequireUser(http.HandlerFunc(h.handleMe))).Methods(http.MethodGet)
	r.HandleFunc("/oauth/{provider}", h.handleOAuthStart).Methods(http.MethodGet)
	r.HandleFunc("/oauth/{provider}/callback", h.handleOAuthCallback).Methods(http.MethodGet)
	r.HandleFunc("/password/forgot", h.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc(ea.ResetPasswordPath, h.handleResetPage).Methods(http.MethodGet)
	r.HandleFunc(ea.ResetPasswordPath, h.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc(ea.VerifyEmailPath, h.handleVerifyEmail).Methods(http.MethodGet)
	h.router = r
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Session.LoadAndSave(h.Router()).ServeHTTP(w, r)
}

func (h *Handler) cookieName() string {
	if h.Cookie.Name != "" {
		return h.Cookie.Name
	}
	return "easyauth_session"
}

func (h *Handler) sameSite() http.SameSite {
	switch strings.ToLower(h.Cookie.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// sessionToken is what the client holds for session.
func (h *Handler) sessionToken(session *ea.Session) (string, error) {
	if h.JWT != nil {
		return h.JWT.Issue(session)
	}
	return session.ID, nil
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    token,
		Domain:   h.Cookie.Domain,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Domain:   h.Cookie.Domain,
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: h.sameSite(),
	})
}

// tokenFromRequest reads the bearer header first, then the cookie.
func (h *Handler) tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(h.cookieName()); err == nil {
		return cookie.Value
	}
	return ""
}

// sessionIDFromToken returns the stored session id behind a token, or "" if
// the token cannot be decoded.
func (h *Handler) sessionIDFromToken(token string) string {
	if h.JWT == nil {
		return token
	}
	session, err := h.JWT.Parse(token)
	if err != nil {
		return ""
	}
	return session.ID
}

// startSession hands the new session to the client as a cookie and returns
// the token for the JSON body.
func (h *Handler) startSession(w http.ResponseWriter, session *ea.Session) (string, error) {
	token, err := h.sessionToken(session)
	if err != nil {
		return "", err
	}
	h.setSessionCookie(w, token, session.ExpiresAt)
	return token, nil
}
