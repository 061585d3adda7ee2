package easyauth

import (
	"maps"
	"strings"
	"time"
)

// CredentialsProvider is the reserved provider name for local password accounts.
// The ProviderAccountID of a credentials account is the user's normalized email.
const CredentialsProvider = "credentials"

// User represents a registered identity
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"` // empty when the user has no email
	EmailVerified *time.Time `json:"email_verified,omitempty"`
	Name          string     `json:"name,omitempty"`
	Image         string     `json:"image,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a copy of u that shares no memory with it.
func (u User) Clone() User {
	if u.EmailVerified != nil {
		t := *u.EmailVerified
		u.EmailVerified = &t
	}
	return u
}

// UserPatch holds the fields to change in UpdateUser. Nil fields are left alone.
type UserPatch struct {
	Email         *string
	EmailVerified *time.Time
	Name          *string
	Image         *string

	// Resets EmailVerified to nil. Ignored when EmailVerified is set.
	ClearEmailVerified bool
}

// Apply returns a copy of u with the patch merged in. UpdatedAt is not touched.
func (p UserPatch) Apply(u User) User {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.EmailVerified != nil {
		t := *p.EmailVerified
		u.EmailVerified = &t
	} else if p.ClearEmailVerified {
		u.EmailVerified = nil
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Image != nil {
		u.Image = *p.Image
	}
	return u
}

// Account links a User to a provider (an OAuth provider or CredentialsProvider)
type Account struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	AccessToken       string `json:"access_token,omitempty"`
	RefreshToken      string `json:"refresh_token,omitempty"`
	TokenType         string `json:"token_type,omitempty"`
	Scope             string `json:"scope,omitempty"`
	ExpiresAt         int64  `json:"expires_at,omitempty"` // unix seconds, 0 if unknown
	PasswordHash      string `json:"password_hash,omitempty"`
}

// Validate checks the invariants every Adapter enforces in LinkAccount, except
// that UserID names an existing User, which needs the store.
func (a *Account) Validate(op string) error {
	if a.Provider == "" || a.ProviderAccountID == "" {
		return NewError(KindInvalidArgument, op, "provider and provider account id required", nil)
	}
	if a.UserID == "" {
		return NewError(KindInvalidArgument, op, "user id required", nil)
	}
	if a.PasswordHash != "" && a.Provider != CredentialsProvider {
		return NewError(KindInvalidArgument, op, "password hash only allowed on credentials accounts", nil)
	}
	return nil
}

// Session is a live authenticated context.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Valid reports whether the session is still usable at now.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// VerificationToken is a single-use proof of possession (email verification,
// password reset, OAuth state binding).
type VerificationToken struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the token can no longer be redeemed at now.
func (t *VerificationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AuditEvent is an append-only record of a security relevant action
type AuditEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy of e with its own Meta map. Meta values are copied
// shallowly.
func (e AuditEvent) Clone() AuditEvent {
	e.Meta = maps.Clone(e.Meta)
	return e
}

// NormalizeEmail is the one email normalization every Adapter must use for
// lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(email)
}
