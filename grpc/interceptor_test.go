package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/jwtsession"
	"github.com/panyam/easyauth/stores/memory"
)

// newSession registers a user and returns a resolver plus a live session id.
func newSession(t *testing.T) (*AuthResolver, *ea.User, string) {
	t.Helper()
	auth := ea.New(memory.New())
	auth.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	if _, err := auth.Register(ctx, "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("register: %v", err)
	}
	user, session, err := auth.Login(ctx, "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return &AuthResolver{Auth: auth}, user, session.ID
}

func withToken(token string) context.Context {
	md := metadata.Pairs(DefaultMetadataKeyAuthorization, "Bearer "+token)
	return metadata.NewIncomingContext(context.Background(), md)
}

type failingResolver struct{}

func (failingResolver) ResolveToken(context.Context, string) (*ea.User, error) {
	return nil, errors.New("store down")
}

func expectCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error", code)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != code {
		t.Errorf("expected %v code, got %v", code, st.Code())
	}
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(failingResolver{})
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.Config == nil {
		t.Error("expected Config to be initialized")
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig(failingResolver{}, "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestUnaryAuthInterceptor_RequireAuth_NoToken(t *testing.T) {
	resolver, _, _ := newSession(t)
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(resolver))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_ValidSession(t *testing.T) {
	resolver, user, sessionID := newSession(t)
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(resolver))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	var seen string
	_, err := interceptor(withToken(sessionID), nil, info, func(ctx context.Context, req any) (any, error) {
		seen = UserIDFromContext(ctx)
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != user.ID {
		t.Errorf("expected handler to see user %q, got %q", user.ID, seen)
	}
}

func TestUnaryAuthInterceptor_LoggedOutSession(t *testing.T) {
	resolver, _, sessionID := newSession(t)
	if err := resolver.Auth.Logout(context.Background(), sessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(resolver))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withToken(sessionID), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	resolver, _, _ := newSession(t)
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(resolver, "/pkg.Svc/PublicMethod"))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/PublicMethod"}

	handlerCalled := false
	_, err := interceptor(withToken("unknown"), nil, info, func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		if IsAuthenticated(ctx) {
			t.Error("expected no user for an unknown token")
		}
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public method: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public method")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	resolver, _, _ := newSession(t)
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(resolver))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	handlerCalled := false
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error with optional auth: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called with optional auth")
	}
}

func TestUnaryAuthInterceptor_ResolverFailure(t *testing.T) {
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(failingResolver{}))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withToken("tok"), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	expectCode(t, err, codes.Unavailable)
}

func TestAuthResolver_JWT(t *testing.T) {
	resolver, user, sessionID := newSession(t)
	session, err := resolver.Auth.Adapter.GetSession(context.Background(), sessionID)
	if err != nil || session == nil {
		t.Fatalf("get session: %v", err)
	}
	resolver.JWT = &jwtsession.Codec{Secret: []byte("secret"), Clock: resolver.Auth.Clock}
	token, err := resolver.JWT.Issue(session)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := resolver.ResolveToken(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Errorf("expected user %q, got %+v", user.ID, got)
	}

	got, err = resolver.ResolveToken(context.Background(), "garbage")
	if err != nil || got != nil {
		t.Errorf("expected (nil, nil) for a bad token, got (%v, %v)", got, err)
	}
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) SendMsg(any) error            { return nil }
func (m *mockServerStream) RecvMsg(any) error            { return nil }

func TestStreamAuthInterceptor_RequireAuth_NoToken(t *testing.T) {
	resolver, _, _ := newSession(t)
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(resolver))
	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	expectCode(t, err, codes.Unauthenticated)
}

func TestStreamAuthInterceptor_ValidSession(t *testing.T) {
	resolver, user, sessionID := newSession(t)
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(resolver))
	stream := &mockServerStream{ctx: withToken(sessionID)}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	var seen string
	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		seen = UserIDFromContext(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != user.ID {
		t.Errorf("expected stream handler to see user %q, got %q", user.ID, seen)
	}
}

func TestStreamAuthInterceptor_PublicMethod(t *testing.T) {
	resolver, _, _ := newSession(t)
	interceptor := StreamAuthInterceptor(NewPublicMethodsConfig(resolver, "/pkg.Svc/PublicStream"))
	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/PublicStream"}

	handlerCalled := false
	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		handlerCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public stream: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public stream")
	}
}
