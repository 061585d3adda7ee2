package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/jwtsession"
)

// Resolver turns a session token into its user. Unknown or expired tokens
// resolve to (nil, nil).
type Resolver interface {
	ResolveToken(ctx context.Context, token string) (*ea.User, error)
}

// AuthResolver resolves database session ids, or JWT session tokens when JWT
// is set.
type AuthResolver struct {
	Auth *ea.Auth
	JWT  *jwtsession.Codec
}

func (r *AuthResolver) ResolveToken(ctx context.Context, token string) (*ea.User, error) {
	if r.JWT == nil {
		return r.Auth.GetCurrentUser(ctx, token)
	}
	session, err := r.JWT.Parse(token)
	if err != nil {
		return nil, nil
	}
	return r.Auth.ResolveSession(ctx, *session)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Must be passed in
	Resolver Resolver

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed and UserFromContext returns nil.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(resolver Resolver) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Resolver:      resolver,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(resolver Resolver, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(resolver)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(resolver Resolver) *InterceptorConfig {
	config := DefaultInterceptorConfig(resolver)
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
}

// authenticate resolves the caller and returns the context handlers see.
func (config *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	var user *ea.User
	if token := SessionTokenFromContext(ctx, config.Config); token != "" {
		resolved, err := config.Resolver.ResolveToken(ctx, token)
		if err != nil {
			return nil, status.Error(codes.Unavailable, "session lookup failed")
		}
		user = resolved
	}
	if user == nil {
		if config.RequireAuth && !config.PublicMethods[method] {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return ContextWithUser(ctx, user), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves the
// session token.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStream overrides Context so handlers see the resolved user.
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor returns a gRPC stream interceptor that resolves the
// session token.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}
