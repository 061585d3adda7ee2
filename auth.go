package easyauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Auth runs the credential and OAuth login flows against an Adapter.
//
// Auth holds no entity state: every call reads fresh records from the Adapter
// and returns fresh records. Configure the fields once at setup; after that an
// Auth is safe for concurrent use.
type Auth struct {
	// Must be passed in
	Adapter Adapter

	// Time source for every expiry decision. Defaults to the real clock.
	Clock clockwork.Clock

	// Lifetime of sessions created by Login and OAuthLogin. Defaults to 7 days.
	SessionTTL time.Duration

	// Validates Register input and new passwords. Nil means the permissive
	// zero SignupPolicy.
	SignupPolicy *SignupPolicy

	// Optional email delivery for verification and reset links
	EmailSender SendEmail

	// Base URL used to build verification and reset links. With httpauth it
	// includes the prefix the handler is mounted under.
	BaseURL string

	// Optional asynchronous audit delivery. When nil, events are appended
	// inline: failures are only logged, but the flow waits for
	// Adapter.AppendAudit to return. Hosts whose audit sink can be slow should
	// set a dispatcher.
	Audit *AuditDispatcher

	// Disables audit recording entirely
	DisableAudit bool

	Logger *slog.Logger
}

// New returns an Auth with defaults filled in.
func New(adapter Adapter) *Auth {
	return (&Auth{Adapter: adapter}).EnsureDefaults()
}

// NewFromConfig builds an Auth from a validated Config.
func NewFromConfig(cfg *Config, adapter Adapter) *Auth {
	a := &Auth{
		Adapter:      adapter,
		SessionTTL:   cfg.SessionTTL(),
		BaseURL:      cfg.BaseURL,
		DisableAudit: !cfg.Features.Audit,
	}
	if cfg.Features.StrictSignup {
		p := StrictSignupPolicy()
		a.SignupPolicy = &p
	}
	return a.EnsureDefaults()
}

// EnsureDefaults fills in unset fields. Call it before sharing the Auth.
func (a *Auth) EnsureDefaults() *Auth {
	if a.Clock == nil {
		a.Clock = clockwork.NewRealClock()
	}
	if a.SessionTTL <= 0 {
		a.SessionTTL = DefaultSessionTTL
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	return a
}

func (a *Auth) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock.Now()
}

func (a *Auth) sessionTTL() time.Duration {
	if a.SessionTTL > 0 {
		return a.SessionTTL
	}
	return DefaultSessionTTL
}

func (a *Auth) signupPolicy() SignupPolicy {
	if a.SignupPolicy != nil {
		return *a.SignupPolicy
	}
	return SignupPolicy{}
}

func (a *Auth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// startSession creates a session for userID that expires SessionTTL from now.
func (a *Auth) startSession(ctx context.Context, userID string) (*Session, error) {
	session, err := a.Adapter.CreateSession(ctx, userID, a.now().Add(a.sessionTTL()))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// audit records event without ever failing the caller.
func (a *Auth) audit(ctx context.Context, event AuditEvent) {
	if a.DisableAudit {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = a.now()
	}
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	if a.Audit != nil {
		a.Audit.Emit(ctx, event)
		return
	}
	if err := a.Adapter.AppendAudit(ctx, event); err != nil {
		a.logger().WarnContext(ctx, "failed to append audit event", "type", event.Type, "error", err)
	}
}
