package easyauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identifier prefixes for the VerificationTokens issued by the engine. The
// prefix keeps a reset token from being redeemable as a verification token.
const (
	IdentifierEmailVerification = "verify-email:"
	IdentifierPasswordReset     = "reset-password:"
)

// Default token lifetimes
const (
	TokenExpiryEmailVerification = 24 * time.Hour
	TokenExpiryPasswordReset     = 1 * time.Hour
)

// DefaultSessionTTL is the lifetime of sessions created by Login and OAuthLogin.
const DefaultSessionTTL = 7 * 24 * time.Hour

// GenerateSecureToken returns 32 random bytes, hex encoded.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewID returns a fresh record ID for users, accounts, tokens and audit events.
func NewID() string {
	return uuid.NewString()
}

// NewSessionID returns an unguessable session ID.
func NewSessionID() (string, error) {
	return GenerateSecureToken()
}
