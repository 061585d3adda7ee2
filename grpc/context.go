// Package grpc resolves easyauth sessions in gRPC servers. Clients send the
// session token in metadata; the interceptors turn it into an *easyauth.User
// available through UserFromContext.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ea "github.com/panyam/easyauth"
)

// Default metadata keys for the session token.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeySession carries the bare token
	DefaultMetadataKeySession = "x-session-token"
)

// Config holds the metadata key configuration.
type Config struct {
	// Defaults to "authorization".
	MetadataKeyAuthorization string

	// Defaults to "x-session-token".
	MetadataKeySession string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeySession:       DefaultMetadataKeySession,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeySession == "" {
		c.MetadataKeySession = DefaultMetadataKeySession
	}
}

// SessionTokenFromContext reads the session token from incoming metadata.
// A bearer authorization value wins over the bare session key.
func SessionTokenFromContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(config.MetadataKeyAuthorization) {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok && token != "" {
			return strings.TrimSpace(token)
		}
	}
	if values := md.Get(config.MetadataKeySession); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SessionTokenToOutgoingContext attaches token as a bearer authorization
// value for a client call.
func SessionTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

type userKey struct{}

// ContextWithUser stores the resolved user.
func ContextWithUser(ctx context.Context, user *ea.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user resolved by the interceptors, or nil.
func UserFromContext(ctx context.Context) *ea.User {
	user, _ := ctx.Value(userKey{}).(*ea.User)
	return user
}

// UserIDFromContext returns the resolved user's id or "".
func UserIDFromContext(ctx context.Context) string {
	if user := UserFromContext(ctx); user != nil {
		return user.ID
	}
	return ""
}

// IsAuthenticated returns true if the interceptors resolved a user.
func IsAuthenticated(ctx context.Context) bool {
	return UserFromContext(ctx) != nil
}
