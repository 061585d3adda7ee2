package httpauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	ea "github.com/panyam/easyauth"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// credentialsRequest is accepted as JSON or as a form.
type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type sessionResponse struct {
	User      *ea.User `json:"user"`
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, ea.NewError(ea.KindInvalidArgument, "decode", "invalid JSON body", err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, ea.NewError(ea.KindInvalidArgument, "decode", "invalid form body", err)
	}
	req.Email = r.PostForm.Get("email")
	req.Password = r.PostForm.Get("password")
	req.Token = r.PostForm.Get("token")
	req.NewPassword = r.PostForm.Get("new_password")
	return req, nil
}

func statusFor(kind ea.Kind) (int, string) {
	switch kind {
	case ea.KindInvalidArgument:
		return http.StatusBadRequest, "invalid_request"
	case ea.KindInvalidCredentials:
		return http.StatusUnauthorized, "invalid_credentials"
	case ea.KindAlreadyExists, ea.KindConflict:
		return http.StatusConflict, "conflict"
	case ea.KindNotFound:
		return http.StatusNotFound, "not_found"
	case ea.KindExpiredToken:
		return http.StatusBadRequest, "invalid_token"
	}
	return http.StatusInternalServerError, "server_error"
}

// writeError maps an engine error to a status. Unclassified errors are
// logged and answered without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(ea.KindOf(err))
	body := errorBody{Error: code}
	var e *ea.Error
	if status == http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	} else if errors.As(err, &e) && e.Detail != "" {
		body.ErrorDescription = e.Detail
	}
	writeJSON(w, status, body)
}
