package easyauth

import (
	"context"
	"time"
)

// Adapter is the persistence contract every storage backend implements.
//
// Lookups return (nil, nil) when the record does not exist. Every operation may
// block on I/O and none imposes its own timeout; callers bound latency through
// ctx. Implementations must be safe for concurrent use.
type Adapter interface {
	// CreateUser assigns an ID and timestamps when absent. It fails with
	// KindConflict if the normalized email is taken by a different user.
	CreateUser(ctx context.Context, user User) (*User, error)

	// GetUser fetches a user by ID
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByEmail looks a user up by NormalizeEmail(email)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUser merges patch, refreshes UpdatedAt and re-indexes the email.
	// Fails with KindNotFound for an unknown id and KindConflict if the new
	// email belongs to someone else.
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error)

	// LinkAccount upserts by (Provider, ProviderAccountID). Re-linking a key to
	// a different UserID fails with KindConflict.
	LinkAccount(ctx context.Context, account Account) (*Account, error)

	// GetAccountByProvider fetches the account linked under (provider, providerAccountID)
	GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*Account, error)

	// CreateSession fails with KindInvalidArgument unless expiresAt is strictly
	// in the future.
	CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*Session, error)

	GetSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, id string) error

	// CreateVerificationToken assigns an ID when absent.
	CreateVerificationToken(ctx context.Context, token VerificationToken) (*VerificationToken, error)

	// UseVerificationToken atomically removes the matching record and returns it.
	// An expired record is still removed but (nil, nil) is returned. Of any
	// number of concurrent callers at most one gets a non-nil result.
	UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error)

	// AppendAudit records an event. Engines never fail because of it.
	AppendAudit(ctx context.Context, event AuditEvent) error
}

// Transactor is implemented by adapters that can run several writes as one
// unit. fn receives an Adapter bound to the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Adapter) error) error
}

// SessionExtender is implemented by adapters that support rolling sessions.
type SessionExtender interface {
	ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*Session, error)
}

// SessionReaper is implemented by adapters that can purge expired sessions.
type SessionReaper interface {
	// DeleteExpiredSessions removes sessions with ExpiresAt <= now and returns
	// how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// AuditSink receives audit events. Every Adapter is an AuditSink.
type AuditSink interface {
	AppendAudit(ctx context.Context, event AuditEvent) error
}
