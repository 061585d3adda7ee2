package httpauth

import (
	"context"
	"net"
	"net/http"
	"strings"

	ea "github.com/panyam/easyauth"
)

type userKey struct{}

// UserFromContext returns the user set by RequireUser or OptionalUser.
func UserFromContext(ctx context.Context) *ea.User {
	user, _ := ctx.Value(userKey{}).(*ea.User)
	return user
}

// currentUser resolves the request's session token. Undecodable, unknown and
// expired tokens all resolve to nil.
func (h *Handler) currentUser(r *http.Request) (*ea.User, error) {
	token := h.tokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	if h.JWT == nil {
		return h.Auth.GetCurrentUser(r.Context(), token)
	}
	session, err := h.JWT.Parse(token)
	if err != nil {
		return nil, nil
	}
	return h.Auth.ResolveSession(r.Context(), *session)
}

// RequireUser answers 401 unless the request carries a live session.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// OptionalUser sets the user in the context when there is one and never
// rejects the request.
func (h *Handler) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r)
		if err != nil {
			h.logger().WarnContext(r.Context(), "failed to resolve session", "error", err)
		}
		if user != nil {
			r = r.WithContext(context.WithValue(r.Context(), userKey{}, user))
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP records the caller's address for audit events.
func (h *Handler) clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(ea.WithClientIP(r.Context(), ClientIP(r))))
	})
}

// ClientIP extracts the client IP from X-Forwarded-For, X-Real-IP or the
// remote address, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
