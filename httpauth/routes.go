package httpauth

import (
	"crypto/subtle"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	ea "github.com/panyam/easyauth"
)

// scs keys for the OAuth round trip
const (
	keyOAuthState    = "oauth_state"
	keyOAuthVerifier = "oauth_verifier"
	keyOAuthProvider = "oauth_provider"
	keyOAuthReturnTo = "oauth_return_to"
)

func (h *Handler) respondWithSession(w http.ResponseWriter, status int, user *ea.User, session *ea.Session) {
	token, err := h.startSession(w, session)
	if err != nil {
		h.logger().Error("failed to issue session token", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server_error"})
		return
	}
	writeJSON(w, status, sessionResponse{User: user, Token: token, ExpiresAt: session.ExpiresAt.Unix()})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Auth.Register(r.Context(), req.Email, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, session, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondWithSession(w, http.StatusCreated, user, session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, session, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondWithSession(w, http.StatusOK, user, session)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := h.sessionIDFromToken(h.tokenFromRequest(r)); id != "" {
		if err := h.Auth.Logout(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": UserFromContext(r.Context())})
}

// safeReturnTo only allows same-site relative paths.
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return ""
	}
	return raw
}

func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]
	client, ok := h.clients[providerID]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "unknown provider"})
		return
	}
	req, err := ea.BuildAuthorizationURL(client.Provider, client.AuthorizationOptions())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	// a fresh token defeats session fixation of the state record
	if err := h.Session.RenewToken(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Session.Put(ctx, keyOAuthState, req.State)
	h.Session.Put(ctx, keyOAuthVerifier, req.Verifier)
	h.Session.Put(ctx, keyOAuthProvider, providerID)
	if returnTo := safeReturnTo(r.URL.Query().Get("return_to")); returnTo != "" {
		h.Session.Put(ctx, keyOAuthReturnTo, returnTo)
	}
	http.Redirect(w, r, req.URL, http.StatusFound)
}

func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerID := mux.Vars(r)["provider"]
	client, ok := h.clients[providerID]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "unknown provider"})
		return
	}

	// the state record is single use whatever the outcome
	state := h.Session.PopString(ctx, keyOAuthState)
	verifier := h.Session.PopString(ctx, keyOAuthVerifier)
	startedWith := h.Session.PopString(ctx, keyOAuthProvider)
	returnTo := h.Session.PopString(ctx, keyOAuthReturnTo)

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "access_denied", ErrorDescription: providerErr})
		return
	}
	got := q.Get("state")
	if state == "" || startedWith != providerID || subtle.ConstantTimeCompare([]byte(state), []byte(got)) != 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_state"})
		return
	}

	user, session, err := client.Complete(ctx, h.Auth, q.Get("code"), verifier)
	if err != nil {
		h.logger().WarnContext(ctx, "oauth callback failed", "provider", providerID, "error", err)
		h.writeError(w, r, err)
		return
	}
	if _, err := h.startSession(w, session); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger().InfoContext(ctx, "oauth login", "provider", providerID, "user_id", user.ID)

	if returnTo == "" {
		returnTo = h.DefaultRedirectURL
	}
	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	// same answer whether or not the email is known
	w.WriteHeader(http.StatusAccepted)
}

var resetFormTemplate = template.Must(template.New("reset").Parse(`<!doctype html>
<title>Reset password</title>
<form method="post">
<input type="hidden" name="email" value="{{.Email}}">
<input type="hidden" name="token" value="{{.Token}}">
<label>New password <input type="password" name="new_password" autocomplete="new-password"></label>
<button type="submit">Reset password</button>
</form>
`))

// handleResetPage is where emailed reset links land. The token is not
// redeemed here; the form posts it back to the same path.
func (h *Handler) handleResetPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.ResetPageURL != "" {
		target, err := url.Parse(h.ResetPageURL)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		params := target.Query()
		params.Set("email", q.Get("email"))
		params.Set("token", q.Get("token"))
		target.RawQuery = params.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resetFormTemplate.Execute(w, struct{ Email, Token string }{q.Get("email"), q.Get("token")}); err != nil {
		h.logger().ErrorContext(r.Context(), "failed to render reset form", "error", err)
	}
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Auth.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, err := h.Auth.VerifyEmail(r.Context(), q.Get("email"), q.Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
